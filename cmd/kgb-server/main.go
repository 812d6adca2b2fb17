// Command kgb-server runs the KGB notification daemon: the RPC ingress and
// one IRC session per configured network (spec §2, §4.8).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kgbnotify/kgb/internal/config"
	"github.com/kgbnotify/kgb/internal/logger"
	"github.com/kgbnotify/kgb/internal/supervisor"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		configFlag string
		foreground bool
		logLevel   string
		logFormat  string
	)

	cmd := &cobra.Command{
		Use:   "kgb-server",
		Short: "Relay version-control commits to IRC",
		Long:  `kgb-server accepts authenticated RPC calls describing VCS commits and publishes colourised announcements to one or more IRC networks.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.LoadBootstrap(configFlag)
			log := logger.New(logLevel, logFormat)

			sup, err := supervisor.New(path, log)
			if err != nil {
				return fmt.Errorf("kgb-server: %w", err)
			}

			_ = foreground // daemonisation/pid-file handling is an external collaborator, out of scope (§1)

			return sup.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&configFlag, "config", "", "path to the YAML configuration file")
	cmd.Flags().BoolVar(&foreground, "foreground", false, "run without detaching (used by the restart path)")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	cmd.Flags().StringVar(&logFormat, "log-format", "json", "log format: json or text")

	return cmd
}
