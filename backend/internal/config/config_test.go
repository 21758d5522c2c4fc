package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DEV_NAS_HOST", "dev.lan")
	t.Setenv("DEV_NAS_PORT", "2222")
	t.Setenv("DEV_NAS_USER", "svc")
	t.Setenv("PERSONAL_NAS_HOST", "home.lan")
	t.Setenv("PERSONAL_NAS_PORT", "22")
	t.Setenv("PERSONAL_NAS_USER", "me")
	t.Setenv("SSH_KEY_PATH", "/keys/id_ed25519")
}

func TestLoad_MissingKeys(t *testing.T) {
	t.Chdir(t.TempDir())
	for _, key := range requiredKeys {
		t.Setenv(key, "")
	}

	_, err := Load(Options{})
	var missing *MissingKeysError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, requiredKeys, missing.Keys)
	assert.Contains(t, err.Error(), "missing env vars: DEV_NAS_HOST,")
}

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("YOGA_NAS_HOST", "")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	require.Len(t, cfg.Targets, 2)
	assert.Equal(t, "dev", cfg.Targets[0].Name)
	assert.Equal(t, 2222, cfg.Targets[0].Port)
	assert.Equal(t, "https://dev.lan:5001", cfg.Targets[0].DSM.BaseURL)
	assert.Equal(t, "svc", cfg.Targets[0].DSM.User)
	assert.Equal(t, 8765, cfg.HTTPPort)
	assert.Equal(t, 8766, cfg.WSPort)
	assert.Equal(t, []string{"rm", "shutdown", "reboot", "poweroff", "halt"}, cfg.Exec.Denylist)
	assert.Empty(t, cfg.Exec.Allowlist)
	assert.Equal(t, []string{"/var/log"}, cfg.LogAllowPrefixes)
	assert.True(t, cfg.TLS.RejectUnauthorized)
	assert.False(t, cfg.Audit.Enabled)
}

func TestLoad_OptionalYogaAndFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("YOGA_NAS_HOST", "yoga.lan")
	t.Setenv("YOGA_NAS_USER", "y")
	t.Setenv("SSH_PASSWORD_ENABLED", "true")
	t.Setenv("SSH_PASSWORD", "pw")
	t.Setenv("EXEC_ALLOWLIST", "ls; df:uname")
	t.Setenv("AUDIT_ENABLED", "1")
	t.Setenv("TLS_REJECT_UNAUTHORIZED", "0")

	cfg, err := Load(Options{})
	require.NoError(t, err)

	yoga, ok := cfg.Target("yoga")
	require.True(t, ok)
	assert.Equal(t, 22, yoga.Port)
	assert.True(t, cfg.SSHPasswordEnabled)
	assert.Equal(t, "pw", cfg.SSHPassword)
	assert.Equal(t, []string{"ls", "df", "uname"}, cfg.Exec.Allowlist)
	assert.True(t, cfg.Audit.Enabled)
	assert.False(t, cfg.TLS.RejectUnauthorized)
}

func TestLoad_LocalAndStartupFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("LOCAL_BASE_DIR", "/srv/share")
	t.Setenv("LOCAL_ALLOW_ABS", "true")
	t.Setenv("LOCAL_ALLOWLIST", "/srv/share/a;/srv/share/b")
	t.Setenv("NO_SSH_CHECK", "1")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, LocalConfig{
		BaseDir:   "/srv/share",
		AllowAbs:  true,
		Allowlist: []string{"/srv/share/a", "/srv/share/b"},
	}, cfg.Local)
	assert.True(t, cfg.NoSSHCheck)
}

func TestLoad_SelfTestSettings(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("TEST_REMOTE_DIR", "/scratch")
	t.Setenv("TEST_REMOTE_DIR_DEV", "")
	t.Setenv("TEST_REMOTE_DIR_YOGA", "")
	t.Setenv("TEST_REMOTE_DIR_PERSONAL", "/volume1/tmp")
	t.Setenv("TEST_HTTP_URL", "")
	t.Setenv("TEST_WS_URL", "")
	t.Setenv("PORT", "")
	t.Setenv("MCP_PORT", "9100")

	cfg, err := Load(Options{})
	require.NoError(t, err)
	assert.Equal(t, "/scratch", cfg.SelfTest.RemoteDir)
	assert.Equal(t, map[string]string{"personal": "/volume1/tmp"}, cfg.SelfTest.RemoteDirs)
	assert.Equal(t, "http://localhost:8765", cfg.SelfTest.HTTPURL)
	assert.Equal(t, "ws://localhost:9100", cfg.SelfTest.WSURL)
}

func TestLoad_EnvFileDoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	setRequired(t)
	t.Setenv("API_TOKEN", "from-env")

	envFile := filepath.Join(dir, "custom.env")
	require.NoError(t, os.WriteFile(envFile, []byte("API_TOKEN=from-file\nMCP_PORT=9000\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MCP_PORT") })

	cfg, err := Load(Options{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.APIToken)
	assert.Equal(t, 9000, cfg.WSPort)
}

func TestLoad_ExplicitEnvFileMissing(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	_, err := Load(Options{EnvFile: "does-not-exist.env"})
	assert.Error(t, err)
}

func TestLoad_TLSRequiresMaterial(t *testing.T) {
	t.Chdir(t.TempDir())
	setRequired(t)
	t.Setenv("TLS_ENABLED", "true")
	t.Setenv("TLS_CERT_PATH", "")
	_, err := Load(Options{})
	assert.Error(t, err)
}

func TestSplitList(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SplitList(" a ;b,, c: "))
	assert.Empty(t, SplitList(""))
}
