package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"
)

const serviceName = "relaybot"

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd user service running 'relaybot serve'",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Write the systemd user unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runtime.GOOS != "linux" {
				return fmt.Errorf("unsupported OS: %s (systemd only)", runtime.GOOS)
			}
			execPath, err := os.Executable()
			if err != nil {
				return fmt.Errorf("cannot determine executable path: %w", err)
			}
			cfgPath, err := filepath.Abs(resolveConfigPath())
			if err != nil {
				return err
			}
			unitPath, err := unitFilePath()
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(unitPath), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(unitPath, []byte(renderUnit(execPath, cfgPath)), 0o644); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Service installed: %s\n", unitPath)
			fmt.Fprintf(out, "To start:  systemctl --user start %s\n", serviceName)
			fmt.Fprintf(out, "To enable: systemctl --user enable %s\n", serviceName)
			return nil
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Remove the systemd user unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			unitPath, err := unitFilePath()
			if err != nil {
				return err
			}
			if err := os.Remove(unitPath); err != nil {
				return fmt.Errorf("remove unit: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Service uninstalled: %s\n", unitPath)
			return nil
		},
	})
	return cmd
}

func unitFilePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "systemd", "user", serviceName+".service"), nil
}

func renderUnit(execPath, cfgPath string) string {
	r := strings.NewReplacer("{{EXEC}}", execPath, "{{CONFIG}}", cfgPath)
	return r.Replace(systemdTemplate)
}

const systemdTemplate = `[Unit]
Description=relaybot chat-to-backend relay
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
ExecStart="{{EXEC}}" serve --config "{{CONFIG}}"
Restart=on-failure
RestartSec=5

[Install]
WantedBy=default.target
`
