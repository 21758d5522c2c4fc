package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nasgate/backend"
)

var noSSHCheck bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and WebSocket listeners (default)",
	RunE:  runServe,
}

func init() {
	// 根命令也直接运行 serve，所以标志挂在两处
	for _, cmd := range []*cobra.Command{rootCmd, serveCmd} {
		cmd.Flags().BoolVar(&noSSHCheck, "no-ssh-check", false, "skip the uname -a check on every target at startup (or NO_SSH_CHECK=1)")
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := backend.NewApp(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Version).
		Int("http_port", cfg.HTTPPort).
		Int("ws_port", cfg.WSPort).
		Msg("starting nasgate")
	if !noSSHCheck && !cfg.NoSSHCheck {
		go app.CheckTargets(ctx)
	}
	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info().Msg("nasgate stopped")
	return nil
}
