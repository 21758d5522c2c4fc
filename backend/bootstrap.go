package backend

import (
	"nasgate/backend/internal/config"
	"nasgate/backend/internal/logging"
)

// Config 是进程级配置，cmd 层通过这个别名引用
type Config = config.Config

// LoadOptions 是命令行传入的配置来源和日志级别覆盖
type LoadOptions struct {
	EnvFile    string
	ConfigFile string
	LogLevel   string // 非空时覆盖 LOG_LEVEL
	Component  string
}

// LoadConfig 读取配置并按配置初始化全局日志
func LoadConfig(opts LoadOptions) (*Config, error) {
	cfg, err := config.Load(config.Options{EnvFile: opts.EnvFile, ConfigFile: opts.ConfigFile})
	if err != nil {
		return nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: opts.Component,
	})
	return cfg, nil
}

// ShutdownLogging 关闭日志文件，进程退出前调用
func ShutdownLogging() {
	logging.Shutdown()
}
