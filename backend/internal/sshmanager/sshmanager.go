package sshmanager

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skeema/knownhosts"
	"github.com/zalando/go-keyring"
	"golang.org/x/crypto/ssh"

	"nasgate/backend/internal/config"
	"nasgate/backend/internal/types"
)

const (
	// 钥匙串中保存 SSH 密码的服务名和账户名
	keyringService = "nasgate"
	keyringAccount = "ssh"

	// DialTimeout 是建立连接和完成握手的总超时
	DialTimeout = 10 * time.Second
)

// AuthKind 表示一次连接使用的认证方式
type AuthKind int

const (
	AuthKey AuthKind = iota
	AuthPassword
)

func (k AuthKind) String() string {
	if k == AuthPassword {
		return "password"
	}
	return "key"
}

// Manager 持有所有目标和共享的凭据，创建后只读
type Manager struct {
	targets         map[string]*types.Target
	names           []string
	creds           *types.Credentials
	hostKeyCallback ssh.HostKeyCallback
	hostKeyAlgos    func(addr string) []string
}

// NewManager 根据配置创建目标注册表
func NewManager(cfg *config.Config) (*Manager, error) {
	creds := &types.Credentials{
		KeyPath:         cfg.SSHKeyPath,
		Password:        cfg.SSHPassword,
		PasswordEnabled: cfg.SSHPasswordEnabled,
	}

	// 没有配置明文密码时，从系统钥匙串读取
	if creds.Password == "" && cfg.SSHPasswordKeyring {
		pw, err := keyring.Get(keyringService, keyringAccount)
		switch {
		case err == nil:
			creds.Password = pw
		case errors.Is(err, keyring.ErrNotFound):
			log.Warn().Str("service", keyringService).Msg("no ssh password stored in keychain")
		default:
			return nil, fmt.Errorf("failed to read ssh password from keychain: %w", err)
		}
	}

	m := &Manager{
		targets: make(map[string]*types.Target, len(cfg.Targets)),
		creds:   creds,
	}
	for _, tc := range cfg.Targets {
		m.targets[tc.Name] = &types.Target{
			Name:        tc.Name,
			Host:        tc.Host,
			Port:        tc.Port,
			User:        tc.User,
			Credentials: creds,
		}
		m.names = append(m.names, tc.Name)
	}

	if cfg.SSHKnownHosts != "" {
		path := config.ExpandHome(cfg.SSHKnownHosts)
		kh, err := knownhosts.New(path)
		if err != nil {
			return nil, fmt.Errorf("could not create known_hosts callback: %w", err)
		}
		m.hostKeyCallback = kh.HostKeyCallback()
		m.hostKeyAlgos = kh.HostKeyAlgorithms
	} else {
		log.Warn().Msg("SSH_KNOWN_HOSTS not set, remote host keys are not verified")
		m.hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return m, nil
}

// Resolve 按名称查找目标，不做任何网络操作
func (m *Manager) Resolve(name string) (*types.Target, error) {
	if t, ok := m.targets[name]; ok {
		return t, nil
	}
	return nil, &types.TargetNotFoundError{Name: name}
}

// Names 按固定顺序返回已配置的目标
func (m *Manager) Names() []string {
	out := make([]string, len(m.names))
	copy(out, m.names)
	return out
}

// PasswordFallback 表示密钥认证失败后是否可以用密码重试
func (m *Manager) PasswordFallback() bool {
	return m.creds.PasswordUsable()
}

// ClientConfig 为目标生成指定认证方式的客户端配置
func (m *Manager) ClientConfig(t *types.Target, kind AuthKind) (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod
	switch kind {
	case AuthKey:
		key, err := readKeyFile(t.Credentials.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		auth = ssh.PublicKeys(signer)
	case AuthPassword:
		if !t.Credentials.PasswordUsable() {
			return nil, errors.New("password authentication is not enabled")
		}
		auth = ssh.Password(t.Credentials.Password)
	}

	clientConfig := &ssh.ClientConfig{
		User:            t.User,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: m.hostKeyCallback,
		Timeout:         DialTimeout,
	}
	if m.hostKeyAlgos != nil {
		clientConfig.HostKeyAlgorithms = m.hostKeyAlgos(t.Addr())
	}
	return clientConfig, nil
}

// readKeyFile 读取密钥文件并展开'~'
func readKeyFile(path string) ([]byte, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("SSH_KEY_PATH is empty")
	}
	return os.ReadFile(filepath.Clean(config.ExpandHome(path)))
}
