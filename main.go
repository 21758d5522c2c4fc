package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nasgate/backend"
)

// 构建时通过 -ldflags 注入
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const appName = "nasgate"

var (
	envFile    string
	configFile string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           appName,
	Short:         "Remote target execution and transfer gateway",
	Long:          `nasgate exposes SSH command execution and SFTP file transfer on a fixed set of NAS targets over HTTP and WebSocket.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default ./.env when present)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "optional yaml/toml/json config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (trace, debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(execCmd)
}

func main() {
	defer backend.ShutdownLogging()
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig 读取配置并按配置初始化日志
func loadConfig() (*backend.Config, error) {
	cfg, err := backend.LoadConfig(backend.LoadOptions{
		EnvFile:    envFile,
		ConfigFile: configFile,
		LogLevel:   logLevel,
		Component:  appName,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("version", Version).Msg("configuration loaded")
	return cfg, nil
}
