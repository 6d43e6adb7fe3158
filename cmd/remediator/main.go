// remediator is the operator CLI: it installs, inspects and removes the
// auto-remediation infrastructure.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/qualys/remediator/internal/config"
	"github.com/qualys/remediator/internal/install"
	"github.com/qualys/remediator/internal/session"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "remediator",
		Short: "AWS Config auto-remediation pipeline",
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to the config file")

	root.AddCommand(newInstallCmd(&configPath))
	root.AddCommand(newUninstallCmd(&configPath))
	root.AddCommand(newStatusCmd(&configPath))
	return root
}

func newUninstallCmd(configPath *string) *cobra.Command {
	var preview bool

	cmd := &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the dispatcher infrastructure",
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, profile, err := newInstaller(cmd, *configPath, preview)
			if err != nil {
				return err
			}

			if err := installer.Uninstall(cmd.Context()); err != nil {
				return err
			}

			if preview {
				for _, call := range profile.Drain() {
					fmt.Fprintf(cmd.OutOrStdout(), "would call %s:%s %v\n", call.Service, call.Operation, call.Params)
				}
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "uninstall complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "print the calls instead of making them")
	return cmd
}

func newInstallCmd(configPath *string) *cobra.Command {
	var preview bool

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Declare the dispatcher infrastructure (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, profile, err := newInstaller(cmd, *configPath, preview)
			if err != nil {
				return err
			}

			if err := installer.Install(cmd.Context()); err != nil {
				return err
			}

			if preview {
				for _, call := range profile.Drain() {
					fmt.Fprintf(cmd.OutOrStdout(), "would call %s:%s %v\n", call.Service, call.Operation, call.Params)
				}
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "install complete")
			return nil
		},
	}
	cmd.Flags().BoolVar(&preview, "preview", false, "print the calls instead of making them")
	return cmd
}

func newStatusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report which infrastructure pieces exist",
		RunE: func(cmd *cobra.Command, args []string) error {
			installer, _, err := newInstaller(cmd, *configPath, false)
			if err != nil {
				return err
			}

			status, err := installer.Status(cmd.Context())
			if err != nil {
				return err
			}

			names := make([]string, 0, len(status))
			for name := range status {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				state := "missing"
				if status[name] {
					state = "present"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-60s %s\n", name, state)
			}
			return nil
		},
	}
}

func newInstaller(cmd *cobra.Command, configPath string, preview bool) (*install.Installer, *session.Profile, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}

	profile, err := session.Load(cmd.Context(), cfg.Dispatcher.Region)
	if err != nil {
		return nil, nil, err
	}
	if preview {
		profile = profile.WithPreview()
	}

	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
	return install.New(cfg, profile, logger), profile, nil
}
