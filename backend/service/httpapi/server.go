// Package httpapi 是无状态的 HTTP 传输层：每个请求独立认证、独立执行。
package httpapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nasgate/backend/service/gateway"
)

const (
	// MaxBodyBytes 是请求体上限
	MaxBodyBytes = 5 << 20

	serviceName = "nasgate-http"
)

// Server 把 gateway 的操作挂到 HTTP 路由上
type Server struct {
	gateway    *gateway.Gateway
	token      string
	tlsEnabled bool
	logger     zerolog.Logger

	server *http.Server
}

// Options 配置 Server，Token 为空时不做认证
type Options struct {
	Addr      string
	Token     string
	TLSConfig *tls.Config
}

func New(g *gateway.Gateway, opts Options) *Server {
	s := &Server{
		gateway:    g,
		token:      opts.Token,
		tlsEnabled: opts.TLSConfig != nil,
		logger:     log.With().Str("component", "httpapi").Logger(),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		TLSConfig:         opts.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
	return s
}

// Handler 返回带全部中间件的路由
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	for _, route := range s.gateway.Routes() {
		mux.Handle("POST "+route, s.handleOperation(route))
	}
	return s.requestIDMiddleware(s.recoverMiddleware(s.authMiddleware(mux)))
}

// Serve 在给定 listener 上提供服务，直到 Shutdown
func (s *Server) Serve(ln net.Listener) error {
	if s.tlsEnabled {
		ln = tls.NewListener(ln, s.server.TLSConfig)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", s.tlsEnabled).Msg("http server listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe 监听配置的地址
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown 等待进行中的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down http server")
	return s.server.Shutdown(ctx)
}

// HealthResponse 是 /health 的返回
type HealthResponse struct {
	OK            bool     `json:"ok"`
	TS            string   `json:"ts"`
	Name          string   `json:"name"`
	TLS           bool     `json:"tls"`
	Auth          bool     `json:"auth"`
	Targets       []string `json:"targets"`
	ExecAllowlist []string `json:"execAllowlist"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		OK:            true,
		TS:            time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		Name:          serviceName,
		TLS:           s.tlsEnabled,
		Auth:          s.token != "",
		Targets:       s.gateway.Targets(),
		ExecAllowlist: s.gateway.ExecAllowlist(),
	})
}

func (s *Server) handleOperation(route string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "request entity too large")
				return
			}
			writeError(w, http.StatusBadRequest, "failed to read body")
			return
		}

		result, err := s.gateway.InvokeRoute(r.Context(), route, body)
		if err != nil {
			writeError(w, StatusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to write response")
	}
}
