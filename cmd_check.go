package main

import (
	"encoding/json"
	"errors"

	"github.com/spf13/cobra"

	"nasgate/backend"
)

var (
	checkRemoteDir string
	checkEndpoints bool
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Self-test every configured target over SSH and SFTP",
	Long: `Runs "echo ok" on each configured target, then writes a small file under
the target's test directory over SFTP and reads it back. The directory is
--remote-dir when given, else TEST_REMOTE_DIR_<TARGET>, TEST_REMOTE_DIR, or a
per-target default (/tmp, /volume1/public/tmp for personal).

With --endpoints (default on) the same operations are then sent through a
running gateway at TEST_HTTP_URL and TEST_WS_URL; those results are reported
but do not affect the exit code. Prints a JSON report and exits non-zero when
any target check fails.`,
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkRemoteDir, "remote-dir", "", "remote directory for the write/read check on every target")
	checkCmd.Flags().BoolVar(&checkEndpoints, "endpoints", true, "also call a running gateway over HTTP and WebSocket")
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := backend.NewApp(cfg)
	if err != nil {
		return err
	}

	opts := backend.NewCheckOptions(cfg, checkRemoteDir, checkEndpoints)
	report := backend.SelfCheck(cmd.Context(), app.Registry(), app.Transport(), opts)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if !report.OK {
		return errors.New("self-check failed")
	}
	return nil
}
