package backend

import (
	"context"
	"fmt"
	"path"
	"time"

	"github.com/rs/zerolog/log"

	"nasgate/backend/internal/remote"
	"nasgate/backend/service/gateway"
)

const (
	checkPass    = "PASS"
	checkPayload = "selftest-OK"
)

// 各目标默认的测试目录，personal 的 /tmp 通常不在 sftp 根目录下
var defaultRemoteDirs = map[string]string{
	"dev":      "/tmp",
	"personal": "/volume1/public/tmp",
	"yoga":     "/tmp",
}

// RemoteDirs 决定每个目标写测试文件的目录。
// 优先级：Override > PerTarget > Shared > 内置默认值。
type RemoteDirs struct {
	Override  string // --remote-dir
	Shared    string // TEST_REMOTE_DIR
	PerTarget map[string]string
}

func (d RemoteDirs) For(name string) string {
	if d.Override != "" {
		return d.Override
	}
	if dir := d.PerTarget[name]; dir != "" {
		return dir
	}
	if d.Shared != "" {
		return d.Shared
	}
	if dir, ok := defaultRemoteDirs[name]; ok {
		return dir
	}
	return "/tmp"
}

// CheckOptions 控制 SelfCheck
type CheckOptions struct {
	Dirs RemoteDirs
	Now  func() time.Time
	// Endpoints 非空时，目标检查之后再通过正在运行的 HTTP 和 WebSocket 服务调用一遍
	Endpoints *EndpointOptions
}

// NewCheckOptions 从配置构造 check 命令使用的选项
func NewCheckOptions(cfg *Config, remoteDir string, endpoints bool) CheckOptions {
	opts := CheckOptions{
		Dirs: RemoteDirs{
			Override:  remoteDir,
			Shared:    cfg.SelfTest.RemoteDir,
			PerTarget: cfg.SelfTest.RemoteDirs,
		},
		Now: time.Now,
	}
	if endpoints {
		opts.Endpoints = &EndpointOptions{
			HTTPURL: cfg.SelfTest.HTTPURL,
			WSURL:   cfg.SelfTest.WSURL,
			Token:   cfg.APIToken,
		}
	}
	return opts
}

// TargetCheck 是单个目标的自检结果，每项是 PASS、FAIL(code=N)、MISMATCH 或 ERROR(...)
type TargetCheck struct {
	SSH   string `json:"ssh"`
	Write string `json:"write"`
	Read  string `json:"read"`
	Path  string `json:"path,omitempty"`
}

func (c TargetCheck) OK() bool {
	return c.SSH == checkPass && c.Write == checkPass && c.Read == checkPass
}

// CheckReport 是 check 命令输出的 JSON。Endpoints 只作参考，不影响 OK。
type CheckReport struct {
	OK        bool                   `json:"ok"`
	Targets   map[string]TargetCheck `json:"targets"`
	Endpoints *EndpointReport        `json:"endpoints,omitempty"`
}

// SelfCheck 对每个已配置目标执行 echo ok，然后在该目标的测试目录下写入再读回测试文件。
// 直接使用 Transport，不受执行策略影响。测试文件在所有检查结束后删除。
func SelfCheck(ctx context.Context, reg gateway.Registry, tr remote.Transport, opts CheckOptions) CheckReport {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	report := CheckReport{OK: true, Targets: make(map[string]TargetCheck)}
	written := make(map[string]string)
	for _, name := range reg.Names() {
		res, wrote := checkTarget(ctx, reg, tr, name, opts.Dirs.For(name), now())
		if !res.OK() {
			report.OK = false
		}
		if wrote {
			written[name] = res.Path
		}
		report.Targets[name] = res
	}

	if opts.Endpoints != nil {
		names := reg.Names()
		report.Endpoints = checkEndpoints(ctx, *opts.Endpoints, names, opts.Dirs, written)
	}

	for name, p := range written {
		removeCheckFile(ctx, reg, tr, name, p)
	}
	return report
}

// checkTarget 返回结果，以及测试文件是否已写入远端
func checkTarget(ctx context.Context, reg gateway.Registry, tr remote.Transport, name, remoteDir string, ts time.Time) (TargetCheck, bool) {
	logger := log.With().Str("component", "selfcheck").Str("target", name).Logger()

	t, err := reg.Resolve(name)
	if err != nil {
		msg := errorResult(err)
		return TargetCheck{SSH: msg, Write: msg, Read: msg}, false
	}

	var res TargetCheck
	out, err := tr.Exec(ctx, t, "echo ok")
	switch {
	case err != nil:
		res.SSH = errorResult(err)
	case out.Code != 0:
		res.SSH = fmt.Sprintf("FAIL(code=%d)", out.Code)
	default:
		res.SSH = checkPass
	}

	// 目录不存在时 sftp 写入会失败；mkdir 的结果只记日志
	if out, err := tr.Exec(ctx, t, "mkdir -p -- "+remote.QuotePath(remoteDir)); err != nil {
		logger.Debug().Err(err).Str("dir", remoteDir).Msg("mkdir failed")
	} else if out.Code != 0 {
		logger.Debug().Int("code", out.Code).Str("stderr", out.Stderr).Str("dir", remoteDir).Msg("mkdir failed")
	}

	res.Path = path.Join(remoteDir, fmt.Sprintf("nasgate-selftest-%d.txt", ts.UnixMilli()))
	if err := tr.WriteFile(ctx, t, res.Path, []byte(checkPayload)); err != nil {
		res.Write = errorResult(err)
		res.Read = res.Write
		return res, false
	}
	res.Write = checkPass

	data, err := tr.ReadFile(ctx, t, res.Path)
	switch {
	case err != nil:
		res.Read = errorResult(err)
	case string(data) != checkPayload:
		res.Read = "MISMATCH"
	default:
		res.Read = checkPass
	}

	logger.Debug().Bool("ok", res.OK()).Msg("target checked")
	return res, true
}

func removeCheckFile(ctx context.Context, reg gateway.Registry, tr remote.Transport, name, p string) {
	t, err := reg.Resolve(name)
	if err != nil {
		return
	}
	if err := tr.Remove(ctx, t, p); err != nil {
		log.Warn().Err(err).Str("component", "selfcheck").Str("target", name).Str("path", p).
			Msg("failed to remove selftest file")
	}
}

func errorResult(err error) string {
	return fmt.Sprintf("ERROR(%s)", err.Error())
}
