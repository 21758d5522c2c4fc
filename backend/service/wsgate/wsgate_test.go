package wsgate

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nasgate/backend/internal/metrics"
	"nasgate/backend/internal/policy"
	"nasgate/backend/internal/types"
	"nasgate/backend/service/gateway"
)

type stubRegistry struct{}

func (stubRegistry) Resolve(name string) (*types.Target, error) {
	if name == "dev" {
		return &types.Target{Name: "dev", Host: "10.0.0.2", Port: 22}, nil
	}
	return nil, &types.TargetNotFoundError{Name: name}
}

func (stubRegistry) Names() []string { return []string{"dev"} }

type stubTransport struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubTransport) Exec(_ context.Context, _ *types.Target, cmd string) (*types.ExecResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &types.ExecResult{Code: 0, Stdout: cmd + "\n"}, nil
}

func (s *stubTransport) ReadFile(context.Context, *types.Target, string) ([]byte, error) {
	return nil, errors.New("no sftp")
}

func (s *stubTransport) WriteFile(context.Context, *types.Target, string, []byte) error { return nil }

func (s *stubTransport) ListDir(context.Context, *types.Target, string) ([]types.FileEntry, error) {
	return nil, nil
}

func (s *stubTransport) Remove(context.Context, *types.Target, string) error { return nil }

func newTestServer(t *testing.T, token string, tr *stubTransport) (*Server, string) {
	t.Helper()
	g := gateway.New(gateway.Options{
		Registry:  stubRegistry{},
		Transport: tr,
		Policy:    policy.New([]string{"echo", "uname"}, nil),
	})
	s := New(g, Options{Token: token})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return s, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// roundTrip 发送一条原始消息，返回解码后的回复
func roundTrip(t *testing.T, conn *websocket.Conn, msg string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestAuthGating(t *testing.T) {
	tr := &stubTransport{}
	_, url := newTestServer(t, "s3cret", tr)
	conn := dial(t, url)

	reply := roundTrip(t, conn, `{"id":1,"method":"nas.exec","params":{"target":"dev","command":"echo hi"}}`)
	assert.Equal(t, float64(1), reply["id"])
	assert.Equal(t, "unauthorized", reply["error"])
	assert.Zero(t, tr.count())

	reply = roundTrip(t, conn, `{"id":2,"auth":{"token":"wrong"}}`)
	assert.Equal(t, "unauthorized", reply["error"])

	reply = roundTrip(t, conn, `{"id":3,"auth":{"token":"s3cret"}}`)
	assert.Equal(t, float64(3), reply["id"])
	assert.Equal(t, map[string]any{"ok": true}, reply["result"])
	assert.NotContains(t, reply, "error")

	reply = roundTrip(t, conn, `{"id":4,"method":"tools.list"}`)
	tools, ok := reply["result"].([]any)
	require.True(t, ok, "result should be a list: %v", reply)
	assert.NotEmpty(t, tools)

	reply = roundTrip(t, conn, `{"id":5,"method":"nas.exec","params":{"target":"dev","command":"echo hi"}}`)
	result, ok := reply["result"].(map[string]any)
	require.True(t, ok, "result should be an object: %v", reply)
	assert.Equal(t, "echo hi\n", result["stdout"])
	assert.Equal(t, 1, tr.count())

	// 已认证后重复发送 auth 直接确认
	reply = roundTrip(t, conn, `{"id":6,"auth":{"token":"whatever"}}`)
	assert.Equal(t, map[string]any{"ok": true}, reply["result"])
}

func TestAuthIsPerConnection(t *testing.T) {
	_, url := newTestServer(t, "s3cret", &stubTransport{})

	first := dial(t, url)
	reply := roundTrip(t, first, `{"id":1,"auth":{"token":"s3cret"}}`)
	require.Equal(t, map[string]any{"ok": true}, reply["result"])

	second := dial(t, url+"/ws")
	reply = roundTrip(t, second, `{"id":1,"method":"tools.list"}`)
	assert.Equal(t, "unauthorized", reply["error"])
}

func TestAuthWithMethodInSameMessage(t *testing.T) {
	_, url := newTestServer(t, "s3cret", &stubTransport{})
	conn := dial(t, url)

	reply := roundTrip(t, conn, `{"id":"a","auth":{"token":"s3cret"},"method":"tools.list"}`)
	assert.Equal(t, "a", reply["id"])
	_, ok := reply["result"].([]any)
	assert.True(t, ok)
}

func TestInvalidJSONKeepsConnection(t *testing.T) {
	_, url := newTestServer(t, "", &stubTransport{})
	conn := dial(t, url)

	reply := roundTrip(t, conn, `not json`)
	assert.Equal(t, map[string]any{"error": "invalid json"}, reply)

	reply = roundTrip(t, conn, `{"id":"x-1","method":"tools.list"}`)
	assert.Equal(t, "x-1", reply["id"])
	assert.Contains(t, reply, "result")
}

func TestErrorsCarryID(t *testing.T) {
	_, url := newTestServer(t, "", &stubTransport{})
	conn := dial(t, url)

	cases := []struct {
		msg string
		err string
	}{
		{`{"id":7,"method":"nope"}`, "unknown method: nope"},
		{`{"id":7,"method":"nas.exec","params":{"target":"dev"}}`, "target and command required"},
		{`{"id":7,"method":"nas.exec","params":{"target":"dev","command":"rm -rf /"}}`, "command not allowed: rm"},
		{`{"id":7,"method":"nas.exec","params":{"target":"zzz","command":"echo"}}`, "unknown target: zzz"},
	}
	for _, tc := range cases {
		reply := roundTrip(t, conn, tc.msg)
		assert.Equal(t, float64(7), reply["id"])
		assert.Equal(t, tc.err, reply["error"])
		assert.NotContains(t, reply, "result")
	}
}

func TestMissingIDOmitted(t *testing.T) {
	_, url := newTestServer(t, "", &stubTransport{})
	conn := dial(t, url)

	reply := roundTrip(t, conn, `{"method":"tools.list"}`)
	assert.NotContains(t, reply, "id")
	assert.Contains(t, reply, "result")
}

func TestConnectionGaugeAndShutdown(t *testing.T) {
	// 前面测试的连接在服务端异步关闭
	require.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WSConnectionsActive) == 0
	}, 2*time.Second, 10*time.Millisecond)

	s, url := newTestServer(t, "", &stubTransport{})
	conn := dial(t, url)
	roundTrip(t, conn, `{"id":1,"method":"tools.list"}`)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.WSConnectionsActive))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.WSConnectionsActive) == 0
	}, 2*time.Second, 10*time.Millisecond)
}
