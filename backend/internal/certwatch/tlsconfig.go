package certwatch

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"nasgate/backend/internal/config"
)

// ServerConfig 根据配置创建服务端 tls.Config，证书通过 Reloader 动态获取。
// CA 文件存在时按 RequestClientCert / RejectUnauthorized 决定客户端证书策略。
func ServerConfig(cfg config.TLSConfig) (*tls.Config, *Reloader, error) {
	reloader, err := New(config.ExpandHome(cfg.CertPath), config.ExpandHome(cfg.KeyPath))
	if err != nil {
		return nil, nil, err
	}

	tlsCfg := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: reloader.GetCertificate,
	}

	if cfg.CAPath != "" {
		pem, err := os.ReadFile(config.ExpandHome(cfg.CAPath))
		if err != nil {
			return nil, nil, fmt.Errorf("read tls ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, nil, errors.New("tls ca contains no certificates")
		}
		tlsCfg.ClientCAs = pool
	}

	switch {
	case !cfg.RequestClientCert:
		tlsCfg.ClientAuth = tls.NoClientCert
	case cfg.RejectUnauthorized:
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	default:
		tlsCfg.ClientAuth = tls.RequestClientCert
	}

	return tlsCfg, reloader, nil
}
