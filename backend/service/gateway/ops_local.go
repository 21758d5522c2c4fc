package gateway

import (
	"context"

	"nasgate/backend/internal/remote"
	"nasgate/backend/internal/types"
)

// 本地文件操作作用于网关所在主机，只有 HTTP 路由，不涉及远程连接

type localReadOp struct{}

func (localReadOp) Spec() Spec {
	return Spec{Name: "local.read", Route: "/local/read", Params: []string{"localPath"}}
}

func (localReadOp) Run(_ context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("localPath"); err != nil {
		return nil, err
	}
	res, err := g.local.Read(p.LocalPath)
	if err != nil {
		return nil, err
	}
	req.Note("path", res.Path)
	return res, nil
}

type localWriteOp struct{}

func (localWriteOp) Spec() Spec {
	return Spec{Name: "local.write", Route: "/local/write", Params: []string{"localPath", "content", "encoding?"}}
}

func (localWriteOp) Run(_ context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("localPath", "content"); err != nil {
		return nil, err
	}
	data, err := remote.DecodeContent(*p.Content, p.Encoding)
	if err != nil {
		return nil, &types.ValidationError{Reason: err.Error()}
	}
	res, err := g.local.Write(p.LocalPath, data)
	if err != nil {
		return nil, err
	}
	req.Note("path", res.Path)
	req.Note("bytes", res.Bytes)
	return res, nil
}

type localDeleteOp struct{}

func (localDeleteOp) Spec() Spec {
	return Spec{Name: "local.delete", Route: "/local/delete", Params: []string{"localPath"}}
}

func (localDeleteOp) Run(_ context.Context, g *Gateway, req *Request) (any, error) {
	p := req.Params
	if err := p.require("localPath"); err != nil {
		return nil, err
	}
	res, err := g.local.Delete(p.LocalPath)
	if err != nil {
		return nil, err
	}
	req.Note("path", res.Path)
	return res, nil
}
