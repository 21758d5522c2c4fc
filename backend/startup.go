package backend

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"nasgate/backend/internal/remote"
	"nasgate/backend/service/gateway"
)

const startupCommand = "uname -a"

// TargetStatus 是启动时在一个目标上执行 uname -a 的结果
type TargetStatus struct {
	Target string
	Code   int
	Stdout string
	Stderr string
	Err    error
}

// CheckTargets 并发地在每个目标上执行 uname -a 并记录日志，结果顺序与 reg.Names() 一致。
// 失败不影响网关启动。
func CheckTargets(ctx context.Context, reg gateway.Registry, tr remote.Transport) []TargetStatus {
	names := reg.Names()
	statuses := make([]TargetStatus, len(names))

	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			statuses[i] = checkStartupTarget(ctx, reg, tr, name)
			return nil
		})
	}
	_ = g.Wait()
	return statuses
}

func checkStartupTarget(ctx context.Context, reg gateway.Registry, tr remote.Transport, name string) TargetStatus {
	logger := log.With().Str("component", "startup").Str("target", name).Logger()
	st := TargetStatus{Target: name}

	t, err := reg.Resolve(name)
	if err != nil {
		st.Err = err
		logger.Warn().Err(err).Msg("ssh check failed")
		return st
	}
	res, err := tr.Exec(ctx, t, startupCommand)
	if err != nil {
		st.Err = err
		logger.Warn().Err(err).Msg("ssh check failed")
		return st
	}
	st.Code = res.Code
	st.Stdout = strings.TrimSpace(res.Stdout)
	st.Stderr = strings.TrimSpace(res.Stderr)

	event := logger.Info()
	if res.Code != 0 {
		event = logger.Warn()
	}
	event.Int("code", st.Code).Str("uname", st.Stdout).Str("stderr", st.Stderr).Msg("ssh check")
	return st
}

// CheckTargets 使用网关自己的注册表和传输层
func (a *App) CheckTargets(ctx context.Context) []TargetStatus {
	return CheckTargets(ctx, a.sshManager, a.transport)
}
