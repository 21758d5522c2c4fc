package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultDenylist 是未配置 EXEC_DENYLIST 时使用的拒绝列表
const DefaultDenylist = "rm,shutdown,reboot,poweroff,halt"

// TargetNames 是所有可能的目标，顺序固定
var TargetNames = []string{"dev", "personal", "yoga"}

type DSMConfig struct {
	BaseURL string
	User    string
	Pass    string
}

type TargetConfig struct {
	Name string
	Host string
	Port int
	User string
	DSM  DSMConfig
}

type TLSConfig struct {
	Enabled            bool
	KeyPath            string
	CertPath           string
	CAPath             string
	RequestClientCert  bool
	RejectUnauthorized bool
}

type AuditConfig struct {
	Enabled bool
	Dir     string
}

type ExecConfig struct {
	Allowlist []string
	Denylist  []string
}

// SelfTestConfig 是 check 命令使用的测试目录和端点地址
type SelfTestConfig struct {
	RemoteDir  string            // TEST_REMOTE_DIR
	RemoteDirs map[string]string // TEST_REMOTE_DIR_<TARGET>
	HTTPURL    string
	WSURL      string
}

// LocalConfig 约束 /local/* 可以访问的本机路径
type LocalConfig struct {
	BaseDir   string
	AllowAbs  bool
	Allowlist []string
}

// Config 是进程级配置，加载后不再修改
type Config struct {
	Targets []TargetConfig

	SSHKeyPath         string
	SSHPasswordEnabled bool
	SSHPassword        string
	SSHPasswordKeyring bool
	SSHKnownHosts      string

	APIToken string
	HTTPPort int
	WSPort   int

	TLS              TLSConfig
	DSMSkipTLSVerify bool
	LogAllowPrefixes []string
	Audit            AuditConfig
	Exec             ExecConfig
	Local            LocalConfig
	SelfTest         SelfTestConfig

	// NoSSHCheck 跳过启动时对每个目标的 uname -a 探测
	NoSSHCheck bool

	LogLevel  string
	LogFormat string
}

// Options 控制配置来源
type Options struct {
	EnvFile    string // 为空时尝试当前目录下的 .env
	ConfigFile string // 可选的 yaml/toml/json 配置文件
}

// MissingKeysError 列出所有缺失的必填项
type MissingKeysError struct {
	Keys []string
}

func (e *MissingKeysError) Error() string {
	return fmt.Sprintf("missing env vars: %s", strings.Join(e.Keys, ","))
}

var requiredKeys = []string{
	"DEV_NAS_HOST",
	"DEV_NAS_PORT",
	"DEV_NAS_USER",
	"PERSONAL_NAS_HOST",
	"PERSONAL_NAS_PORT",
	"PERSONAL_NAS_USER",
	"SSH_KEY_PATH",
}

// Load 依次读取 .env、配置文件和环境变量，环境变量优先
func Load(opts Options) (*Config, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", 8765)
	v.SetDefault("MCP_PORT", 8766)
	v.SetDefault("ADMIN_LOG_ALLOWLIST", "/var/log")
	v.SetDefault("EXEC_DENYLIST", DefaultDenylist)
	v.SetDefault("AUDIT_DIR", filepath.Join("codex", "audit"))
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "auto")

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", opts.ConfigFile, err)
		}
	}

	var missing []string
	for _, key := range requiredKeys {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingKeysError{Keys: missing}
	}

	cfg := &Config{
		SSHKeyPath:         v.GetString("SSH_KEY_PATH"),
		SSHPasswordEnabled: flag(v, "SSH_PASSWORD_ENABLED"),
		SSHPassword:        v.GetString("SSH_PASSWORD"),
		SSHPasswordKeyring: flag(v, "SSH_PASSWORD_KEYRING"),
		SSHKnownHosts:      v.GetString("SSH_KNOWN_HOSTS"),
		APIToken:           v.GetString("API_TOKEN"),
		HTTPPort:           v.GetInt("PORT"),
		WSPort:             v.GetInt("MCP_PORT"),
		TLS: TLSConfig{
			Enabled:            flag(v, "TLS_ENABLED"),
			KeyPath:            v.GetString("TLS_KEY_PATH"),
			CertPath:           v.GetString("TLS_CERT_PATH"),
			CAPath:             v.GetString("TLS_CA_PATH"),
			RequestClientCert:  flag(v, "TLS_REQUEST_CLIENT_CERT"),
			RejectUnauthorized: !falsy(v.GetString("TLS_REJECT_UNAUTHORIZED")),
		},
		DSMSkipTLSVerify: flag(v, "DSM_SKIP_TLS_VERIFY"),
		LogAllowPrefixes: SplitList(v.GetString("ADMIN_LOG_ALLOWLIST")),
		Audit: AuditConfig{
			Enabled: flag(v, "AUDIT_ENABLED"),
			Dir:     v.GetString("AUDIT_DIR"),
		},
		Exec: ExecConfig{
			Allowlist: SplitList(v.GetString("EXEC_ALLOWLIST")),
			Denylist:  SplitList(v.GetString("EXEC_DENYLIST")),
		},
		Local: LocalConfig{
			BaseDir:   v.GetString("LOCAL_BASE_DIR"),
			AllowAbs:  flag(v, "LOCAL_ALLOW_ABS"),
			Allowlist: SplitList(v.GetString("LOCAL_ALLOWLIST")),
		},
		SelfTest: SelfTestConfig{
			RemoteDir:  v.GetString("TEST_REMOTE_DIR"),
			RemoteDirs: make(map[string]string),
			HTTPURL:    v.GetString("TEST_HTTP_URL"),
			WSURL:      v.GetString("TEST_WS_URL"),
		},
		NoSSHCheck: flag(v, "NO_SSH_CHECK"),
		LogLevel:   v.GetString("LOG_LEVEL"),
		LogFormat:  v.GetString("LOG_FORMAT"),
	}

	for _, name := range TargetNames {
		prefix := strings.ToUpper(name)
		if dir := v.GetString("TEST_REMOTE_DIR_" + prefix); dir != "" {
			cfg.SelfTest.RemoteDirs[name] = dir
		}
		host := v.GetString(prefix + "_NAS_HOST")
		// yoga 是可选目标，只有配置了 host 才生效
		if host == "" {
			continue
		}
		port := v.GetInt(prefix + "_NAS_PORT")
		if port <= 0 {
			port = 22
		}
		user := v.GetString(prefix + "_NAS_USER")
		dsm := DSMConfig{
			BaseURL: v.GetString(prefix + "_DSM_URL"),
			User:    v.GetString(prefix + "_DSM_USER"),
			Pass:    v.GetString(prefix + "_DSM_PASS"),
		}
		if dsm.BaseURL == "" {
			dsm.BaseURL = fmt.Sprintf("https://%s:5001", host)
		}
		if dsm.User == "" {
			dsm.User = user
		}
		cfg.Targets = append(cfg.Targets, TargetConfig{
			Name: name,
			Host: host,
			Port: port,
			User: user,
			DSM:  dsm,
		})
	}

	if cfg.TLS.Enabled && (cfg.TLS.CertPath == "" || cfg.TLS.KeyPath == "") {
		return nil, errors.New("TLS_ENABLED requires TLS_CERT_PATH and TLS_KEY_PATH")
	}

	if cfg.SelfTest.HTTPURL == "" {
		scheme := "http"
		if cfg.TLS.Enabled {
			scheme = "https"
		}
		cfg.SelfTest.HTTPURL = fmt.Sprintf("%s://localhost:%d", scheme, cfg.HTTPPort)
	}
	if cfg.SelfTest.WSURL == "" {
		scheme := "ws"
		if cfg.TLS.Enabled {
			scheme = "wss"
		}
		cfg.SelfTest.WSURL = fmt.Sprintf("%s://localhost:%d", scheme, cfg.WSPort)
	}

	return cfg, nil
}

// Target 按名称查找目标配置
func (c *Config) Target(name string) (TargetConfig, bool) {
	for _, t := range c.Targets {
		if t.Name == name {
			return t, true
		}
	}
	return TargetConfig{}, false
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	// 默认的 .env 不存在是正常情况
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

// SplitList 按 ; , : 分割列表并去掉空项
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, func(r rune) bool {
		return r == ';' || r == ',' || r == ':'
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func flag(v *viper.Viper, key string) bool {
	switch strings.ToLower(strings.TrimSpace(v.GetString(key))) {
	case "1", "true":
		return true
	}
	return false
}

func falsy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "false":
		return true
	}
	return false
}

// ExpandHome 展开路径开头的 ~
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(homeDir, path[1:])
}
