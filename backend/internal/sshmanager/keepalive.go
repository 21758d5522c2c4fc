package sshmanager

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

const (
	// KeepAliveInterval 是发送 keep-alive 请求的间隔
	KeepAliveInterval = 15 * time.Second
	// keepAliveRequestTimeout 必须小于 KeepAliveInterval
	keepAliveRequestTimeout = 10 * time.Second
)

// keepAliveSender 便于测试替换
type keepAliveSender interface {
	SendRequest(name string, wantReply bool, payload []byte) (bool, []byte, error)
	Close() error
}

// StartKeepAlive 在操作期间周期性发送 keep-alive，检测半开连接。
// 请求失败或超时会关闭连接，使阻塞中的操作返回错误。ctx 结束后退出。
func StartKeepAlive(ctx context.Context, client *ssh.Client, target string) {
	keepAlive(ctx, client, target, KeepAliveInterval)
}

func keepAlive(ctx context.Context, client keepAliveSender, target string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// SendRequest 在半开连接上可能一直阻塞，所以放到单独的 goroutine 里
			errC := make(chan error, 1)
			go func() {
				_, _, err := client.SendRequest("keepalive@openssh.com", true, nil)
				errC <- err
			}()

			select {
			case err := <-errC:
				if err != nil {
					log.Warn().Err(err).Str("target", target).Msg("ssh keep-alive failed, closing connection")
					_ = client.Close()
					return
				}
			case <-time.After(keepAliveRequestTimeout):
				log.Warn().Str("target", target).Dur("timeout", keepAliveRequestTimeout).Msg("ssh keep-alive timed out, closing connection")
				_ = client.Close()
				return
			case <-ctx.Done():
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
