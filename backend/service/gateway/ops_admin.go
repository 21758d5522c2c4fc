package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"path"
	"strings"

	"nasgate/backend/internal/housekeeping"
	"nasgate/backend/internal/mdstat"
	"nasgate/backend/internal/remote"
	"nasgate/backend/internal/types"
)

const (
	mdstatCommand = "cat /proc/mdstat"
	dfCommand     = "df -h"
	dockerCommand = "docker ps --format '{{json .}}'"

	defaultTailLines = 200
	maxTailLines     = 2000
)

type scanOp struct{}

func (scanOp) Spec() Spec {
	return Spec{Name: "scan", Method: "house.scan", Route: "/housekeeping/scan", Params: []string{"target", "dir", "minSizeMB?", "olderThanDays?"}}
}

// ScanResult 回显实际使用的阈值
type ScanResult struct {
	Items         []housekeeping.ScanItem `json:"items"`
	Dir           string                  `json:"dir"`
	MinSizeMB     float64                 `json:"minSizeMB"`
	OlderThanDays float64                 `json:"olderThanDays"`
}

func (scanOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "dir"); err != nil {
		return nil, err
	}
	if p.MinSizeMB.Set && !p.MinSizeMB.Valid {
		return nil, &types.ValidationError{Reason: "minSizeMB must be a number"}
	}
	if p.OlderThanDays.Set && !p.OlderThanDays.Valid {
		return nil, &types.ValidationError{Reason: "olderThanDays must be a number"}
	}
	opts := housekeeping.ScanOptions{
		MinSizeMB:     p.MinSizeMB.Or(housekeeping.DefaultMinSizeMB),
		OlderThanDays: p.OlderThanDays.Or(housekeeping.DefaultOlderThanDays),
	}

	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	entries, err := g.transport.ListDir(ctx, t, p.Dir)
	if err != nil {
		return nil, err
	}
	items := housekeeping.Scan(entries, opts, g.now())
	req.Note("dir", p.Dir)
	req.Note("matches", len(items))
	return &ScanResult{
		Items:         items,
		Dir:           p.Dir,
		MinSizeMB:     opts.MinSizeMB,
		OlderThanDays: opts.OlderThanDays,
	}, nil
}

type dupesOp struct{}

func (dupesOp) Spec() Spec {
	return Spec{Name: "dupeCandidates", Method: "house.dupes", Route: "/housekeeping/dupes", Params: []string{"target", "dir"}}
}

// DupesResult 是重复候选组
type DupesResult struct {
	Groups [][]housekeeping.DupeMember `json:"groups"`
}

func (dupesOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "dir"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	entries, err := g.transport.ListDir(ctx, t, p.Dir)
	if err != nil {
		return nil, err
	}
	groups := housekeeping.Dupes(entries)
	req.Note("dir", p.Dir)
	req.Note("groups", len(groups))
	return &DupesResult{Groups: groups}, nil
}

type storageSummaryOp struct{}

func (storageSummaryOp) Spec() Spec {
	return Spec{Name: "storageSummary", Method: "admin.storageSummary", Route: "/admin/storage-summary", Params: []string{"target"}}
}

// StorageSummary 包含 df 和 mdstat 的原始输出，以及解析后的阵列
type StorageSummary struct {
	DF     *types.ExecResult `json:"df"`
	Mdstat *types.ExecResult `json:"mdstat"`
	Arrays []mdstat.Array    `json:"arrays"`
}

func (storageSummaryOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	df, err := g.transport.Exec(ctx, t, dfCommand)
	if err != nil {
		return nil, err
	}
	md, err := g.transport.Exec(ctx, t, mdstatCommand)
	if err != nil {
		return nil, err
	}
	arrays := []mdstat.Array{}
	if md.Code == 0 {
		arrays = mdstat.Parse(md.Stdout)
	}
	return &StorageSummary{DF: df, Mdstat: md, Arrays: arrays}, nil
}

type dockerListOp struct{}

func (dockerListOp) Spec() Spec {
	return Spec{Name: "dockerList", Method: "admin.dockerList", Route: "/admin/docker-list", Params: []string{"target"}}
}

// DockerList 是 exec 结果加上逐行解析的容器
type DockerList struct {
	types.ExecResult
	Containers []map[string]any `json:"containers"`
}

func (dockerListOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	res, err := g.transport.Exec(ctx, t, dockerCommand)
	if err != nil {
		return nil, err
	}
	req.Note("code", res.Code)
	return &DockerList{ExecResult: *res, Containers: parseContainers(res.Stdout)}, nil
}

// parseContainers 每行一个 JSON 对象，无法解析的行跳过
func parseContainers(stdout string) []map[string]any {
	containers := make([]map[string]any, 0)
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var c map[string]any
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			continue
		}
		containers = append(containers, c)
	}
	return containers
}

type logTailOp struct{}

func (logTailOp) Spec() Spec {
	return Spec{Name: "logTail", Method: "admin.logTail", Route: "/admin/log-tail", Params: []string{"target", "path", "lines?"}}
}

func (logTailOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "path"); err != nil {
		return nil, err
	}
	logPath, ok := g.logPathAllowed(p.Path)
	if !ok {
		return nil, &types.PathPolicyError{Path: p.Path}
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	n := tailLines(p.Lines)
	req.Note("path", logPath)
	req.Note("lines", n)
	res, err := g.transport.Exec(ctx, t, fmt.Sprintf("tail -n %d -- %s", n, remote.QuotePath(logPath)))
	if err != nil {
		return nil, err
	}
	return res, nil
}

// logPathAllowed 先规范化路径再做前缀匹配，返回规范化后的路径。
// 只接受绝对路径，.. 不能绕出允许的目录。
func (g *Gateway) logPathAllowed(p string) (string, bool) {
	if !strings.HasPrefix(p, "/") {
		return "", false
	}
	cleaned := path.Clean(p)
	for _, prefix := range g.logPrefixes {
		if prefix != "" && strings.HasPrefix(cleaned, prefix) {
			return cleaned, true
		}
	}
	return "", false
}

// tailLines 缺省、非数字或 0 时用 200，然后截断到 [1, 2000]
func tailLines(n Number) int {
	v := n.Value
	if !n.Set || !n.Valid || v == 0 || math.IsNaN(v) {
		v = defaultTailLines
	}
	return int(math.Max(1, math.Min(maxTailLines, v)))
}
