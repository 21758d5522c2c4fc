package wsgate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"nasgate/backend/internal/logging"
)

// session 是一个连接的状态，只在读循环的 goroutine 中访问
type session struct {
	server *Server
	conn   *websocket.Conn
	logger zerolog.Logger
	authed bool
}

func (s *session) readLoop(ctx context.Context) {
	for {
		// 每次读之前重置，处理一条消息的耗时不计入 pong 超时
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("websocket read failed")
			}
			return
		}
		if err := s.write(s.handle(ctx, data)); err != nil {
			s.logger.Debug().Err(err).Msg("websocket write failed")
			return
		}
	}
}

// handle 处理一条消息并返回回复
func (s *session) handle(ctx context.Context, data []byte) *Reply {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return &Reply{Error: errInvalidJSON}
	}

	if !s.authed {
		if msg.Auth == nil || !s.server.tokenMatches(msg.Auth.Token) {
			s.logger.Info().Msg("rejected unauthenticated message")
			return &Reply{ID: msg.ID, Error: errUnauthorized}
		}
		s.authed = true
		s.logger.Debug().Msg("websocket authenticated")
	}

	// 纯认证消息，已认证后重复发送也直接确认
	if msg.Auth != nil && msg.Method == "" {
		return &Reply{ID: msg.ID, Result: authResult{OK: true}}
	}

	ctx, _ = logging.WithRequestID(ctx, "")
	result, err := s.server.gateway.InvokeMethod(ctx, msg.Method, msg.Params)
	if err != nil {
		return &Reply{ID: msg.ID, Error: err.Error()}
	}
	return &Reply{ID: msg.ID, Result: result}
}

func (s *session) write(reply *Reply) error {
	b, err := json.Marshal(reply)
	if err != nil {
		// 结果无法编码时仍然回复，避免客户端一直等待
		b, _ = json.Marshal(Reply{ID: reply.ID, Error: fmt.Sprintf("failed to encode result: %v", err)})
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, b)
}
