// Package gateway 是 HTTP 和 WebSocket 共用的操作核心。
//
// 两个传输层只负责解码请求和编码响应；参数校验、命令策略、目标解析、
// 审计和指标都在 invoke 中统一处理。
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"nasgate/backend/internal/audit"
	"nasgate/backend/internal/dsm"
	"nasgate/backend/internal/localfs"
	"nasgate/backend/internal/logging"
	"nasgate/backend/internal/metrics"
	"nasgate/backend/internal/policy"
	"nasgate/backend/internal/remote"
	"nasgate/backend/internal/types"
	"nasgate/backend/pkg/utils"
)

const (
	TransportHTTP = "http"
	TransportWS   = "ws"
)

// Registry 按名称解析目标，sshmanager.Manager 实现了它
type Registry interface {
	Resolve(name string) (*types.Target, error)
	Names() []string
}

// Spec 描述一个操作在两个传输层上的名字
type Spec struct {
	Name   string
	Method string   // WebSocket 方法名，为空表示只能通过 HTTP 调用
	Route  string   // HTTP 路由，为空表示只能通过 WebSocket 调用
	Params []string // tools.list 中展示的参数，可选参数以 ? 结尾
}

// Operation 是一个具体操作，集合在 New 中固定
type Operation interface {
	Spec() Spec
	Run(ctx context.Context, g *Gateway, req *Request) (any, error)
}

// Request 是一次调用的上下文
type Request struct {
	Transport string
	Params    *Params
	fields    map[string]any
}

// Note 记录一个附加到审计事件上的字段
func (r *Request) Note(key string, value any) {
	if r.fields == nil {
		r.fields = make(map[string]any)
	}
	r.fields[key] = value
}

// ToolInfo 是 tools.list 返回的一项
type ToolInfo struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
}

// Options 是 Gateway 的依赖
type Options struct {
	Registry    Registry
	Transport   remote.Transport
	Policy      *policy.Policy
	LogPrefixes []string
	DSM         *dsm.Client
	Audit       audit.Recorder
	Local       *localfs.FS // 为空时按当前工作目录创建
}

// Gateway 创建后只读，可以被任意多个连接并发使用
type Gateway struct {
	registry    Registry
	transport   remote.Transport
	policy      *policy.Policy
	logPrefixes []string
	dsm         *dsm.Client
	audit       audit.Recorder
	local       *localfs.FS
	now         func() time.Time

	ops      []Operation
	byMethod map[string]Operation
	byRoute  map[string]Operation
}

func New(opts Options) *Gateway {
	g := &Gateway{
		registry:    opts.Registry,
		transport:   opts.Transport,
		policy:      opts.Policy,
		logPrefixes: opts.LogPrefixes,
		dsm:         opts.DSM,
		audit:       opts.Audit,
		local:       opts.Local,
		now:         time.Now,
		ops:         operations(),
		byMethod:    make(map[string]Operation),
		byRoute:     make(map[string]Operation),
	}
	if g.policy == nil {
		g.policy = policy.New(nil, nil)
	}
	if g.audit == nil {
		g.audit = audit.Nop{}
	}
	if g.local == nil {
		g.local = localfs.New(localfs.Options{})
	}
	for _, op := range g.ops {
		spec := op.Spec()
		if spec.Method != "" {
			g.byMethod[spec.Method] = op
		}
		if spec.Route != "" {
			g.byRoute[spec.Route] = op
		}
	}
	return g
}

// Routes 返回所有 HTTP 路由，顺序与操作定义一致
func (g *Gateway) Routes() []string {
	routes := make([]string, 0, len(g.byRoute))
	for _, op := range g.ops {
		if r := op.Spec().Route; r != "" {
			routes = append(routes, r)
		}
	}
	return routes
}

// Catalog 是 WebSocket 可调用方法的静态目录
func (g *Gateway) Catalog() []ToolInfo {
	tools := make([]ToolInfo, 0, len(g.byMethod))
	for _, op := range g.ops {
		spec := op.Spec()
		if spec.Method == "" {
			continue
		}
		params := spec.Params
		if params == nil {
			params = []string{}
		}
		tools = append(tools, ToolInfo{Name: spec.Method, Params: params})
	}
	return tools
}

// Targets 返回已配置的目标名
func (g *Gateway) Targets() []string {
	return g.registry.Names()
}

// ExecAllowlist 返回 exec 允许列表，用于 /health
func (g *Gateway) ExecAllowlist() []string {
	return g.policy.Allowlist()
}

// InvokeMethod 执行一个 WebSocket 方法
func (g *Gateway) InvokeMethod(ctx context.Context, method string, raw json.RawMessage) (any, error) {
	op, ok := g.byMethod[method]
	if !ok {
		err := fmt.Errorf("unknown method: %s", method)
		g.finish(ctx, TransportWS, method, nil, &Request{Transport: TransportWS}, g.now(), err)
		return nil, err
	}
	return g.invoke(ctx, TransportWS, method, op, raw)
}

// InvokeRoute 执行一个 HTTP 路由对应的操作
func (g *Gateway) InvokeRoute(ctx context.Context, route string, raw json.RawMessage) (any, error) {
	op, ok := g.byRoute[route]
	if !ok {
		return nil, fmt.Errorf("unknown route: %s", route)
	}
	return g.invoke(ctx, TransportHTTP, route, op, raw)
}

func (g *Gateway) invoke(ctx context.Context, transport, key string, op Operation, raw json.RawMessage) (result any, err error) {
	started := g.now()
	req := &Request{Transport: transport}
	defer func() {
		g.finish(ctx, transport, key, op, req, started, err)
	}()

	params, err := DecodeParams(raw)
	if err != nil {
		return nil, err
	}
	req.Params = params

	logger := logging.FromContext(ctx)
	defer utils.RecoverErr(logger, &err)
	return op.Run(ctx, g, req)
}

// finish 写审计、记录指标和日志。审计失败只记日志。
func (g *Gateway) finish(ctx context.Context, transport, key string, op Operation, req *Request, started time.Time, err error) {
	dur := g.now().Sub(started)
	name := "unknown"
	if op != nil {
		name = op.Spec().Name
	}
	target := ""
	if req.Params != nil {
		target = req.Params.Target
	}

	ev := audit.Event{
		Kind:     transport,
		Target:   target,
		OK:       err == nil,
		Duration: dur,
		Fields:   req.fields,
	}
	if transport == TransportHTTP {
		ev.Route = key
	} else {
		ev.Method = key
	}
	if err != nil {
		ev.Error = err.Error()
	}

	logger := logging.FromContext(ctx).With().
		Str("op", name).
		Str("transport", transport).
		Str("target", target).
		Dur("duration", dur).
		Logger()

	if _, auditErr := g.audit.Append(ev); auditErr != nil {
		logger.Warn().Err(auditErr).Msg("failed to append audit event")
	}
	metrics.ObserveOperation(name, transport, started, err)

	if err != nil {
		logEvent(logger, err).Err(err).Msg("operation failed")
		return
	}
	logger.Debug().Msg("operation completed")
}

// 调用方的错误用 Info，其余用 Warn
func logEvent(logger zerolog.Logger, err error) *zerolog.Event {
	switch err.(type) {
	case *types.ValidationError, *types.PolicyError, *types.PathPolicyError, *types.TargetNotFoundError:
		return logger.Info()
	}
	return logger.Warn()
}

func (g *Gateway) resolve(name string) (*types.Target, error) {
	return g.registry.Resolve(name)
}
