package backend

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"nasgate/backend/internal/audit"
	"nasgate/backend/internal/certwatch"
	"nasgate/backend/internal/config"
	"nasgate/backend/internal/dsm"
	"nasgate/backend/internal/localfs"
	"nasgate/backend/internal/policy"
	"nasgate/backend/internal/remote"
	"nasgate/backend/internal/sshmanager"
	"nasgate/backend/service/gateway"
	"nasgate/backend/service/httpapi"
	"nasgate/backend/service/wsgate"
)

// ShutdownTimeout 是收到退出信号后等待进行中请求的最长时间
const ShutdownTimeout = 10 * time.Second

// App 持有进程内所有长生命周期的组件
type App struct {
	cfg        *config.Config
	sshManager *sshmanager.Manager
	transport  *remote.SSH
	gateway    *gateway.Gateway
	certs      *certwatch.Reloader

	HTTP *httpapi.Server
	WS   *wsgate.Server

	logger zerolog.Logger
}

// NewApp 按配置组装所有组件，TLS 材料不可读时直接返回错误
func NewApp(cfg *config.Config) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: log.With().Str("component", "app").Logger(),
	}

	var err error
	a.sshManager, err = sshmanager.NewManager(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to init ssh manager: %w", err)
	}
	a.transport = remote.NewSSH(a.sshManager)

	var recorder audit.Recorder = audit.Nop{}
	if cfg.Audit.Enabled {
		recorder = audit.NewSink(cfg.Audit.Dir)
	}

	local := localfs.New(localfs.Options{
		BaseDir:   cfg.Local.BaseDir,
		AllowAbs:  cfg.Local.AllowAbs,
		Allowlist: cfg.Local.Allowlist,
	})
	a.gateway = gateway.New(gateway.Options{
		Registry:    a.sshManager,
		Transport:   a.transport,
		Policy:      policy.New(cfg.Exec.Allowlist, cfg.Exec.Denylist),
		LogPrefixes: cfg.LogAllowPrefixes,
		DSM:         dsm.NewClient(dsmEndpoints(cfg), cfg.DSMSkipTLSVerify),
		Audit:       recorder,
		Local:       local,
	})

	var tlsConfig *tls.Config
	if cfg.TLS.Enabled {
		tlsConfig, a.certs, err = certwatch.ServerConfig(cfg.TLS)
		if err != nil {
			return nil, fmt.Errorf("failed to load tls material: %w", err)
		}
	}

	a.HTTP = httpapi.New(a.gateway, httpapi.Options{
		Addr:      listenAddr(cfg.HTTPPort),
		Token:     cfg.APIToken,
		TLSConfig: tlsConfig,
	})
	a.WS = wsgate.New(a.gateway, wsgate.Options{
		Addr:      listenAddr(cfg.WSPort),
		Token:     cfg.APIToken,
		TLSConfig: tlsConfig,
	})
	return a, nil
}

func (a *App) Gateway() *gateway.Gateway {
	return a.gateway
}

// Transport 直接访问远程传输层，check 命令绕过 gateway 时使用
func (a *App) Transport() remote.Transport {
	return a.transport
}

func (a *App) Registry() gateway.Registry {
	return a.sshManager
}

// Run 启动 HTTP 和 WebSocket 监听，直到 ctx 结束或任一监听出错
func (a *App) Run(ctx context.Context) error {
	httpLn, err := net.Listen("tcp", listenAddr(a.cfg.HTTPPort))
	if err != nil {
		return fmt.Errorf("failed to listen for http: %w", err)
	}
	wsLn, err := net.Listen("tcp", listenAddr(a.cfg.WSPort))
	if err != nil {
		httpLn.Close()
		return fmt.Errorf("failed to listen for websocket: %w", err)
	}
	return a.Serve(ctx, httpLn, wsLn)
}

// Serve 在给定的 listener 上运行两个传输层
func (a *App) Serve(ctx context.Context, httpLn, wsLn net.Listener) error {
	if a.certs != nil {
		if err := a.certs.Start(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("certificate watcher unavailable, tls material will not reload")
		} else {
			defer a.certs.Stop()
		}
	}

	a.logger.Info().
		Strs("targets", a.gateway.Targets()).
		Bool("auth", a.cfg.APIToken != "").
		Bool("tls", a.cfg.TLS.Enabled).
		Bool("audit", a.cfg.Audit.Enabled).
		Msg("gateway starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.HTTP.Serve(httpLn) })
	g.Go(func() error { return a.WS.Serve(wsLn) })
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Shutdown 关闭两个传输层
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info().Msg("gateway shutting down")
	return errors.Join(a.HTTP.Shutdown(ctx), a.WS.Shutdown(ctx))
}

func dsmEndpoints(cfg *config.Config) map[string]dsm.Endpoint {
	endpoints := make(map[string]dsm.Endpoint, len(cfg.Targets))
	for _, t := range cfg.Targets {
		endpoints[t.Name] = dsm.Endpoint{
			BaseURL: t.DSM.BaseURL,
			User:    t.DSM.User,
			Pass:    t.DSM.Pass,
		}
	}
	return endpoints
}

func listenAddr(port int) string {
	return net.JoinHostPort("", strconv.Itoa(port))
}
