package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"nasgate/backend"
)

// program 实现 service.Interface，Start 不能阻塞
type program struct {
	cancel context.CancelFunc
	done   chan error
}

func (p *program) Start(s service.Service) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := backend.NewApp(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan error, 1)
	if !cfg.NoSSHCheck {
		go app.CheckTargets(ctx)
	}
	go func() {
		err := app.Run(ctx)
		if err != nil {
			log.Error().Err(err).Msg("gateway stopped with error")
		}
		p.done <- err
	}()
	log.Info().Str("version", Version).Bool("interactive", service.Interactive()).Msg("nasgate service started")
	return nil
}

func (p *program) Stop(s service.Service) error {
	log.Info().Msg("stopping nasgate service")
	if p.cancel == nil {
		return nil
	}
	p.cancel()
	select {
	case err := <-p.done:
		return err
	case <-time.After(backend.ShutdownTimeout + time.Second):
		return errors.New("timed out waiting for gateway shutdown")
	}
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Install or control nasgate as an OS service",
}

func init() {
	for _, action := range []string{"install", "uninstall", "start", "stop", "restart"} {
		serviceCmd.AddCommand(&cobra.Command{
			Use:   action,
			Short: fmt.Sprintf("%s the nasgate service", action),
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				s, err := newService()
				if err != nil {
					return err
				}
				if err := service.Control(s, action); err != nil {
					return fmt.Errorf("failed to %s service: %w", action, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "service %s: ok\n", action)
				return nil
			},
		})
	}
	serviceCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Run under the service manager",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			s, err := newService()
			if err != nil {
				return err
			}
			return s.Run()
		},
	})
}

func newService() (service.Service, error) {
	args, err := serviceArgs()
	if err != nil {
		return nil, err
	}
	return service.New(&program{}, &service.Config{
		Name:        appName,
		DisplayName: "NAS Gateway",
		Description: "Remote execution and file transfer gateway for NAS targets",
		Arguments:   args,
	})
}

// serviceArgs 是服务管理器启动进程时使用的参数。
// 服务的工作目录不确定，所以文件路径转换为绝对路径。
func serviceArgs() ([]string, error) {
	args := []string{"service", "run"}
	for _, f := range []struct {
		name  string
		value string
	}{
		{"--env-file", envFile},
		{"--config", configFile},
	} {
		if f.value == "" {
			continue
		}
		abs, err := filepath.Abs(f.value)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", f.name, err)
		}
		args = append(args, f.name, abs)
	}
	if logLevel != "" {
		args = append(args, "--log-level", logLevel)
	}
	return args, nil
}
