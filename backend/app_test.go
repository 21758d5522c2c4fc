package backend

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nasgate/backend/internal/config"
	"nasgate/backend/service/httpapi"
)

func testAppConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Targets: []config.TargetConfig{
			{Name: "dev", Host: "127.0.0.1", Port: 1, User: "svc"},
			{Name: "personal", Host: "127.0.0.1", Port: 1, User: "me"},
		},
		SSHKeyPath:       filepath.Join(t.TempDir(), "missing_key"),
		APIToken:         "s3cret",
		LogAllowPrefixes: []string{"/var/log"},
		Exec:             config.ExecConfig{Allowlist: []string{"echo"}},
		Audit:            config.AuditConfig{Enabled: true, Dir: t.TempDir()},
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestAppServeAndShutdown(t *testing.T) {
	app, err := NewApp(testAppConfig(t))
	require.NoError(t, err)

	httpLn, wsLn := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, httpLn, wsLn) }()

	req, err := http.NewRequest(http.MethodGet, "http://"+httpLn.Addr().String()+"/health", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer s3cret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var health httpapi.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	resp.Body.Close()
	assert.True(t, health.Auth)
	assert.Equal(t, []string{"dev", "personal"}, health.Targets)
	assert.Equal(t, []string{"echo"}, health.ExecAllowlist)

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+wsLn.Addr().String()+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.WriteJSON(map[string]any{"id": 1, "method": "tools.list"}))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	assert.Equal(t, "unauthorized", reply["error"])

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(ShutdownTimeout + time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestNewAppRejectsUnreadableTLS(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.TLS = config.TLSConfig{
		Enabled:  true,
		CertPath: filepath.Join(t.TempDir(), "cert.pem"),
		KeyPath:  filepath.Join(t.TempDir(), "key.pem"),
	}
	_, err := NewApp(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load tls material")
}

func TestDSMEndpointsFromTargets(t *testing.T) {
	cfg := testAppConfig(t)
	cfg.Targets[0].DSM = config.DSMConfig{BaseURL: "https://dev:5001", User: "admin", Pass: "pw"}

	eps := dsmEndpoints(cfg)
	require.Len(t, eps, 2)
	assert.Equal(t, "https://dev:5001", eps["dev"].BaseURL)
	assert.Equal(t, "admin", eps["dev"].User)
	assert.Empty(t, eps["personal"].BaseURL)
}
