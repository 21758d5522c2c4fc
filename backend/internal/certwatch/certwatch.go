// Package certwatch 负责加载 TLS 证书，并在证书文件变化时热替换。
package certwatch

import (
	"context"
	"crypto/tls"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Reloader 持有当前证书，通过 GetCertificate 提供给 tls.Config
type Reloader struct {
	certPath string
	keyPath  string

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	// reloaded 在每次成功重新加载后收到一个信号，供测试使用
	reloaded chan struct{}
}

// New 立即加载一次证书，失败直接返回错误
func New(certPath, keyPath string) (*Reloader, error) {
	r := &Reloader{
		certPath: certPath,
		keyPath:  keyPath,
		logger:   log.With().Str("component", "certwatch").Logger(),
		reloaded: make(chan struct{}, 1),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return fmt.Errorf("load tls key pair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	return nil
}

// GetCertificate 实现 tls.Config.GetCertificate
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// Start 开始监控证书所在目录。
// 监控目录而不是文件本身，因为证书更新通常是 rename 覆盖，文件 inode 会变。
func (r *Reloader) Start(parent context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dirs := map[string]struct{}{
		filepath.Dir(r.certPath): {},
		filepath.Dir(r.keyPath):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
	}

	r.watcher = watcher
	r.ctx, r.cancel = context.WithCancel(parent)
	go r.loop()
	r.logger.Info().Str("cert", r.certPath).Str("key", r.keyPath).Msg("watching tls material")
	return nil
}

// Stop 停止监控
func (r *Reloader) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
}

func (r *Reloader) loop() {
	defer r.watcher.Close()

	certName := filepath.Clean(r.certPath)
	keyName := filepath.Clean(r.keyPath)

	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != certName && name != keyName {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// cert 和 key 可能分两次写入，中间状态会加载失败，保留旧证书等下一个事件
			if err := r.reload(); err != nil {
				r.logger.Warn().Err(err).Str("file", name).Msg("tls reload failed, keeping previous certificate")
				continue
			}
			r.logger.Info().Str("file", name).Msg("tls certificate reloaded")
			select {
			case r.reloaded <- struct{}{}:
			default:
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error().Err(err).Msg("watcher error")
		}
	}
}
