package gateway

import (
	"context"
	"errors"

	"nasgate/backend/internal/dsm"
	"nasgate/backend/internal/types"
)

// DSM 操作只有 HTTP 路由

func (g *Gateway) dsmClient() (*dsm.Client, error) {
	if g.dsm == nil {
		return nil, &types.UpstreamError{Service: "dsm", Err: errors.New("DSM not configured")}
	}
	return g.dsm, nil
}

type dsmLoginOp struct{}

func (dsmLoginOp) Spec() Spec {
	return Spec{Name: "dsm.login", Route: "/dsm/login", Params: []string{"target"}}
}

func (dsmLoginOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target"); err != nil {
		return nil, err
	}
	c, err := g.dsmClient()
	if err != nil {
		return nil, err
	}
	return c.Login(ctx, p.Target)
}

type dsmLogoutOp struct{}

func (dsmLogoutOp) Spec() Spec {
	return Spec{Name: "dsm.logout", Route: "/dsm/logout", Params: []string{"target"}}
}

func (dsmLogoutOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target"); err != nil {
		return nil, err
	}
	c, err := g.dsmClient()
	if err != nil {
		return nil, err
	}
	return c.Logout(ctx, p.Target)
}

type dsmListOp struct{}

func (dsmListOp) Spec() Spec {
	return Spec{Name: "dsm.list", Route: "/dsm/list", Params: []string{"target", "path"}}
}

func (dsmListOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "path"); err != nil {
		return nil, err
	}
	c, err := g.dsmClient()
	if err != nil {
		return nil, err
	}
	req.Note("path", p.Path)
	return c.List(ctx, p.Target, p.Path)
}

type dsmMkdirOp struct{}

func (dsmMkdirOp) Spec() Spec {
	return Spec{Name: "dsm.mkdir", Route: "/dsm/mkdir", Params: []string{"target", "path", "name"}}
}

func (dsmMkdirOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "path", "name"); err != nil {
		return nil, err
	}
	c, err := g.dsmClient()
	if err != nil {
		return nil, err
	}
	req.Note("path", p.Path)
	req.Note("name", p.Name)
	return c.Mkdir(ctx, p.Target, p.Path, p.Name)
}

type dsmMoveOp struct{}

func (dsmMoveOp) Spec() Spec {
	return Spec{Name: "dsm.move", Route: "/dsm/move", Params: []string{"target", "paths", "dest", "overwrite?"}}
}

func (dsmMoveOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "paths", "dest"); err != nil {
		return nil, err
	}
	c, err := g.dsmClient()
	if err != nil {
		return nil, err
	}
	req.Note("dest", p.Dest)
	return c.Move(ctx, p.Target, p.Paths, p.Dest, p.Overwrite)
}

type dsmDeleteOp struct{}

func (dsmDeleteOp) Spec() Spec {
	return Spec{Name: "dsm.delete", Route: "/dsm/delete", Params: []string{"target", "paths", "recursive?"}}
}

func (dsmDeleteOp) Run(ctx context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("target", "paths"); err != nil {
		return nil, err
	}
	c, err := g.dsmClient()
	if err != nil {
		return nil, err
	}
	req.Note("recursive", p.Recursive)
	return c.Delete(ctx, p.Target, p.Paths, p.Recursive)
}
