// Package wsgate 是有状态的 WebSocket 传输层。
//
// 每个连接一个读循环，消息按顺序逐条处理，回复携带请求中的 id。
// 配置了 token 时，连接在收到正确的 {auth:{token}} 之前不会执行任何方法。
package wsgate

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"nasgate/backend/internal/metrics"
	"nasgate/backend/pkg/utils"
	"nasgate/backend/service/gateway"
)

const (
	// MaxMessageBytes 是单个消息的上限
	MaxMessageBytes = 8 << 20

	pingInterval = 30 * time.Second
	pongWait     = 2 * pingInterval
	writeWait    = 10 * time.Second
)

const (
	errInvalidJSON  = "invalid json"
	errUnauthorized = "unauthorized"
	closeGoingAway  = "server shutting down"
)

// Message 是客户端发来的消息
type Message struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Auth   *AuthPayload    `json:"auth,omitempty"`
}

type AuthPayload struct {
	Token string `json:"token"`
}

// Reply 中 result 和 error 只会出现一个
type Reply struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Result any             `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

type authResult struct {
	OK bool `json:"ok"`
}

// Server 管理所有 WebSocket 连接
type Server struct {
	gateway  *gateway.Gateway
	token    string
	upgrader websocket.Upgrader
	logger   zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	server *http.Server

	mu    sync.Mutex
	conns map[string]*websocket.Conn
}

// Options 配置 Server，Token 为空时连接一开始就是已认证状态
type Options struct {
	Addr      string
	Token     string
	TLSConfig *tls.Config
}

func New(g *gateway.Gateway, opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		gateway: g,
		token:   opts.Token,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: log.With().Str("component", "wsgate").Logger(),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*websocket.Conn),
	}
	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Handler(),
		TLSConfig:         opts.TLSConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler 在 / 和 /ws 上接受连接
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleConnection)
	mux.HandleFunc("/ws", s.handleConnection)
	return mux
}

// Serve 在给定 listener 上提供服务，直到 Shutdown
func (s *Server) Serve(ln net.Listener) error {
	if s.server.TLSConfig != nil {
		ln = tls.NewListener(ln, s.server.TLSConfig)
	}
	s.logger.Info().Str("addr", ln.Addr().String()).Bool("tls", s.server.TLSConfig != nil).Msg("websocket server listening")
	if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Shutdown 停止接受新连接，取消进行中的操作，并向所有连接发送关闭帧
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("websocket server shutting down, closing all connections")
	err := s.server.Shutdown(ctx)
	s.cancel()

	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	deadline := time.Now().Add(writeWait)
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, closeGoingAway)
	for _, c := range conns {
		_ = c.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = c.Close()
	}
	return err
}

// handleConnection 把 HTTP 请求升级为 WebSocket，然后进入读循环
func (s *Server) handleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("failed to upgrade connection")
		return
	}

	connID := uuid.NewString()
	logger := s.logger.With().Str("conn_id", connID).Str("remote_addr", r.RemoteAddr).Logger()

	s.track(connID, conn)
	metrics.WSConnectionsActive.Inc()
	defer func() {
		metrics.WSConnectionsActive.Dec()
		s.untrack(connID)
		conn.Close()
		logger.Debug().Msg("websocket disconnected")
	}()
	logger.Debug().Msg("websocket connected")

	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	conn.SetReadLimit(MaxMessageBytes)
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	utils.SafeGo(logger, func() { s.pingLoop(ctx, conn) })

	sess := &session{server: s, conn: conn, logger: logger, authed: s.token == ""}
	sess.readLoop(ctx)
}

func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) track(id string, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[id] = conn
}

func (s *Server) untrack(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, id)
}

func (s *Server) tokenMatches(token string) bool {
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}
