package gateway

import (
	"context"
	"unicode/utf8"

	"nasgate/backend/internal/metrics"
	"nasgate/backend/internal/policy"
	"nasgate/backend/internal/remote"
	"nasgate/backend/internal/types"
)

// 审计中记录的命令最多保留这么多字符
const auditCommandMax = 200

// operations 是全部操作，顺序即 tools.list 的顺序
func operations() []Operation {
	return []Operation{
		execOp{},
		readOp{},
		writeOp{},
		checkRaidOp{},
		listDirOp{},
		moveOp{},
		deleteOp{},
		scanOp{},
		dupesOp{},
		storageSummaryOp{},
		dockerListOp{},
		logTailOp{},
		toolsListOp{},
		dsmLoginOp{},
		dsmLogoutOp{},
		dsmListOp{},
		dsmMkdirOp{},
		dsmMoveOp{},
		dsmDeleteOp{},
		localReadOp{},
		localWriteOp{},
		localDeleteOp{},
	}
}

type execOp struct{}

func (execOp) Spec() Spec {
	return Spec{Name: "exec", Method: "nas.exec", Route: "/tools/exec", Params: []string{"target", "command"}}
}

func (execOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "command"); err != nil {
		return nil, err
	}
	if !g.policy.IsAllowed(p.Command) {
		prog := policy.Program(p.Command)
		metrics.PolicyRejections.WithLabelValues(metrics.SanitizeLabel(prog)).Inc()
		req.Note("reason", "not_allowed")
		req.Note("program", prog)
		return nil, &types.PolicyError{Program: prog}
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	req.Note("command", truncate(p.Command, auditCommandMax))
	res, err := g.transport.Exec(ctx, t, p.Command)
	if err != nil {
		return nil, err
	}
	req.Note("code", res.Code)
	return res, nil
}

type readOp struct{}

func (readOp) Spec() Spec {
	return Spec{Name: "read", Method: "nas.read", Route: "/tools/read", Params: []string{"target", "remotePath"}}
}

func (readOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "remotePath"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	req.Note("remotePath", p.RemotePath)
	res, err := remote.ReadWithFallback(ctx, g.transport, t, p.RemotePath)
	if err != nil {
		return nil, err
	}
	req.Note("via", res.Via)
	return res, nil
}

type writeOp struct{}

func (writeOp) Spec() Spec {
	return Spec{Name: "write", Method: "nas.write", Route: "/tools/write", Params: []string{"target", "remotePath", "content", "encoding?"}}
}

func (writeOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "remotePath", "content"); err != nil {
		return nil, err
	}
	data, err := remote.DecodeContent(*p.Content, p.Encoding)
	if err != nil {
		return nil, &types.ValidationError{Reason: err.Error()}
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	req.Note("remotePath", p.RemotePath)
	req.Note("bytes", len(data))
	if err := g.transport.WriteFile(ctx, t, p.RemotePath, data); err != nil {
		return nil, err
	}
	return &types.OKResult{OK: true}, nil
}

type deleteOp struct{}

func (deleteOp) Spec() Spec {
	return Spec{Name: "delete", Method: "nas.delete", Route: "/tools/delete", Params: []string{"target", "remotePath"}}
}

// Run 只删除单个文件。WebSocket 客户端习惯传 path，这里同样接受。
func (deleteOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if p.RemotePath == "" {
		p.RemotePath = p.Path
	}
	if err := p.require("target", "remotePath"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	req.Note("remotePath", p.RemotePath)
	if err := g.transport.Remove(ctx, t, p.RemotePath); err != nil {
		return nil, err
	}
	return &types.OKResult{OK: true}, nil
}

type moveOp struct{}

func (moveOp) Spec() Spec {
	return Spec{Name: "move", Method: "nas.move", Route: "/tools/move", Params: []string{"target", "from", "to"}}
}

func (moveOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "from", "to"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	req.Note("from", p.From)
	req.Note("to", p.To)
	res, err := g.transport.Exec(ctx, t, "mv -- "+remote.QuotePath(p.From)+" "+remote.QuotePath(p.To))
	if err != nil {
		return nil, err
	}
	if res.Code != 0 {
		req.Note("code", res.Code)
		return nil, &types.CommandError{Result: res}
	}
	return &types.OKResult{OK: true}, nil
}

type checkRaidOp struct{}

func (checkRaidOp) Spec() Spec {
	return Spec{Name: "checkRaid", Method: "nas.checkRaid", Route: "/tools/check-raid", Params: []string{"target"}}
}

func (checkRaidOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	res, err := g.transport.Exec(ctx, t, mdstatCommand)
	if err != nil {
		return nil, err
	}
	req.Note("code", res.Code)
	return res, nil
}

type listDirOp struct{}

func (listDirOp) Spec() Spec {
	return Spec{Name: "listDir", Method: "nas.listDir", Route: "/tools/list", Params: []string{"target", "dir"}}
}

// ListDirResult 是 listDir 的返回
type ListDirResult struct {
	Items []types.FileEntry `json:"items"`
}

func (listDirOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "dir"); err != nil {
		return nil, err
	}
	t, err := g.resolve(p.Target)
	if err != nil {
		return nil, err
	}
	req.Note("dir", p.Dir)
	items, err := g.transport.ListDir(ctx, t, p.Dir)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []types.FileEntry{}
	}
	return &ListDirResult{Items: items}, nil
}

type toolsListOp struct{}

func (toolsListOp) Spec() Spec {
	return Spec{Name: "tools.list", Method: "tools.list"}
}

func (toolsListOp) Run(_ context.Context, g *Gateway, _ *Request) (any, error) {
	return g.Catalog(), nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
