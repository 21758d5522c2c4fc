package remote

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"

	"nasgate/backend/internal/metrics"
	"nasgate/backend/internal/sshmanager"
	"nasgate/backend/internal/types"
)

// SSH 是基于 x/crypto/ssh 和 pkg/sftp 的 Transport 实现
type SSH struct {
	manager *sshmanager.Manager
	logger  zerolog.Logger
}

var _ Transport = (*SSH)(nil)

func NewSSH(manager *sshmanager.Manager) *SSH {
	return &SSH{
		manager: manager,
		logger:  log.With().Str("component", "remote").Logger(),
	}
}

// withClient 建立连接，执行 fn，无论结果如何都关闭连接。
// 调用方的 ctx 被取消时会关闭连接，让阻塞中的读写返回。
func (s *SSH) withClient(ctx context.Context, t *types.Target, op string, fn func(*ssh.Client) error) error {
	client, err := s.dial(ctx, t)
	if err != nil {
		return err
	}
	defer client.Close()

	opCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go sshmanager.StartKeepAlive(opCtx, client, t.Name)

	stop := context.AfterFunc(ctx, func() { _ = client.Close() })
	err = fn(client)
	// 连接已因取消被关闭：fn 的结果不可信，即使它返回了 nil
	if !stop() {
		return &types.TransportError{Op: op, Target: t.Name, Err: context.Cause(ctx)}
	}
	return err
}

// dial 先用密钥认证；失败且开启了密码认证时用密码重试一次。
// 两次都失败时返回密钥认证的错误。
func (s *SSH) dial(ctx context.Context, t *types.Target) (*ssh.Client, error) {
	client, keyErr := s.dialWith(ctx, t, sshmanager.AuthKey)
	if keyErr == nil {
		return client, nil
	}
	if !s.manager.PasswordFallback() || ctx.Err() != nil {
		return nil, classifyDialError(t, keyErr)
	}

	s.logger.Debug().Err(keyErr).Str("target", t.Name).Msg("key auth failed, retrying with password")
	client, pwErr := s.dialWith(ctx, t, sshmanager.AuthPassword)
	if pwErr == nil {
		metrics.SSHAuthFallback.WithLabelValues(metrics.OutcomeSuccess).Inc()
		return client, nil
	}
	metrics.SSHAuthFallback.WithLabelValues(metrics.OutcomeError).Inc()
	s.logger.Debug().Err(pwErr).Str("target", t.Name).Msg("password auth failed")
	return nil, classifyDialError(t, keyErr)
}

func (s *SSH) dialWith(ctx context.Context, t *types.Target, kind sshmanager.AuthKind) (*ssh.Client, error) {
	cfg, err := s.manager.ClientConfig(t, kind)
	if err != nil {
		return nil, err
	}

	addr := t.Addr()
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	// 握手也受同一个超时约束
	_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	stop()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	_ = conn.SetDeadline(time.Time{})

	return ssh.NewClient(c, chans, reqs), nil
}

// classifyDialError 把网络错误归为 TransportError，其余归为 AuthError
func classifyDialError(t *types.Target, err error) error {
	var syscallErr *os.SyscallError
	if errors.As(err, &syscallErr) {
		if translated := translateSyscallError(syscallErr, t.Addr()); translated != nil {
			return &types.TransportError{Op: "connect", Target: t.Name, Err: translated}
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &types.TransportError{Op: "connect", Target: t.Name, Err: err}
	}

	return &types.AuthError{Target: t.Name, Err: err}
}

func transportErr(op string, t *types.Target, err error) error {
	return &types.TransportError{Op: op, Target: t.Name, Err: err}
}
