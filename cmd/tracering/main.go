// tracering is the control surface for the rotating capture orchestrator:
// start/stop/status for sessions, install/uninstall for the persistent
// service registration, and collect-logs for support bundles.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/tracering/tracering/config"
	"github.com/tracering/tracering/internal/bundle"
	"github.com/tracering/tracering/internal/logger"
	"github.com/tracering/tracering/internal/mode"
	"github.com/tracering/tracering/internal/status"
	"github.com/tracering/tracering/internal/svcmgr"
	"github.com/tracering/tracering/internal/version"
)

const longHelp = `tracering keeps a bounded, continuously rotating set of network trace files.

It drives the platform's native capture utility (netsh trace on Windows,
tcpdump elsewhere), rolling the capture file whenever it reaches the size
limit and deleting the oldest file once the configured count is exceeded.
Sessions run either as a background task tied to this machine session, or as
an OS service that survives logoff and reboot (--persistent).`

var exampleUsage = strings.TrimSpace(`
  tracering start --path /var/captures --max-files 5 --max-size-mb 25
  tracering start --path C:\captures --max-files 10 --max-size-mb 50 --persistent
  tracering status --json
  tracering stop
`)

func main() {
	var verbose bool

	root := &cobra.Command{
		Use:           "tracering",
		Short:         "Bounded rotating network trace capture",
		Long:          longHelp,
		Example:       exampleUsage,
		Version:       fmt.Sprintf("%s %s/%s", version.Version, runtime.GOOS, runtime.GOARCH),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	log := func() zerolog.Logger { return logger.New(verbose) }

	root.AddCommand(
		startCmd(log),
		stopCmd(log),
		statusCmd(log),
		installCmd(log),
		uninstallCmd(log),
		collectLogsCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// modeManager wires the execution mode dispatcher against the real service
// lifecycle manager.
func modeManager(log zerolog.Logger) (*mode.Manager, error) {
	agentPath, err := mode.AgentExecutable()
	if err != nil {
		return nil, err
	}
	svc, err := svcmgr.New(log, config.StateDir(), agentPath)
	if err != nil {
		return nil, err
	}
	return mode.New(log, config.StateDir(), svc)
}

func startCmd(log func() zerolog.Logger) *cobra.Command {
	var cfg config.Config

	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a rotating capture session",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := modeManager(log())
			if err != nil {
				return err
			}
			if err := m.Start(cfg); err != nil {
				return err
			}
			modeName := "background task"
			if cfg.Persistent {
				modeName = "OS service"
			}
			fmt.Printf("Capture session started as %s.\n", modeName)
			fmt.Printf("  path: %s  max files: %d  max size: %dMB\n", cfg.Path, cfg.MaxFiles, cfg.MaxSizeMB)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfg.Path, "path", "", "directory receiving capture files (created if missing)")
	cmd.Flags().IntVar(&cfg.MaxFiles, "max-files", 10, "number of capture files kept on disk")
	cmd.Flags().IntVar(&cfg.MaxSizeMB, "max-size-mb", 25, "per-file size limit in MB (minimum 10)")
	cmd.Flags().BoolVar(&cfg.Persistent, "persistent", false, "run as an OS service, surviving logoff and reboot")
	cmd.Flags().BoolVar(&cfg.ActivityLogging, "activity-log", false, "write a human-readable session timeline")
	cmd.Flags().BoolVar(&cfg.RawLogging, "raw-log", false, "persist the capture utility's raw output")
	_ = cmd.MarkFlagRequired("path")
	return cmd
}

func stopCmd(log func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the active capture session, whichever mode hosts it",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := modeManager(log())
			if err != nil {
				return err
			}
			if err := m.Stop(); err != nil {
				return err
			}
			fmt.Println("Capture session stopped.")
			return nil
		},
	}
}

func statusCmd(log func() zerolog.Logger) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of the capture session",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := modeManager(log())
			if err != nil {
				return err
			}
			snap, err := m.Status()
			if err != nil {
				return err
			}
			if asJSON {
				out, err := json.MarshalIndent(snap, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			printStatus(snap)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "machine-readable output")
	return cmd
}

func printStatus(snap status.Snapshot) {
	state := "stopped"
	if snap.IsRunning {
		state = fmt.Sprintf("running (%s mode)", snap.Mode)
	}
	fmt.Printf("State:         %s\n", state)
	if snap.Path == "" && snap.LastUpdate.IsZero() {
		fmt.Println("No capture session has run on this machine yet.")
		return
	}
	fmt.Printf("Capture path:  %s\n", snap.Path)
	fmt.Printf("Current file:  %s\n", snap.CurrentFile)
	fmt.Printf("Files created: %d\n", snap.FilesCreated)
	fmt.Printf("Files rolled:  %d\n", snap.FilesRolled)
	fmt.Printf("Max files:     %d\n", snap.MaxFiles)
	fmt.Printf("Max size (MB): %d\n", snap.MaxSizeMB)
	fmt.Printf("Persistent:    %t\n", snap.Persistent)
	fmt.Printf("Activity log:  %t\n", snap.LoggingEnabled)
	fmt.Printf("Last update:   %s\n", snap.LastUpdate.Format(time.RFC3339))
	if snap.ErrorMessage != "" {
		fmt.Printf("Error:         %s\n", snap.ErrorMessage)
	}
}

func installCmd(log func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Register the capture agent as an OS service (without starting it)",
		RunE: func(cmd *cobra.Command, args []string) error {
			agentPath, err := mode.AgentExecutable()
			if err != nil {
				return err
			}
			svc, err := svcmgr.New(log(), config.StateDir(), agentPath)
			if err != nil {
				return err
			}
			if err := svc.Install(); err != nil {
				return err
			}
			fmt.Printf("Service %q installed.\n", svcmgr.ServiceName)
			return nil
		},
	}
}

func uninstallCmd(log func() zerolog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the OS service registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			agentPath, err := mode.AgentExecutable()
			if err != nil {
				return err
			}
			svc, err := svcmgr.New(log(), config.StateDir(), agentPath)
			if err != nil {
				return err
			}
			if err := svc.Uninstall(); err != nil {
				return err
			}
			fmt.Printf("Service %q removed.\n", svcmgr.ServiceName)
			return nil
		},
	}
}

func collectLogsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "collect-logs",
		Short: "Package logs, status, and configuration into a zip for support",
		RunE: func(cmd *cobra.Command, args []string) error {
			zipName := fmt.Sprintf("tracering-logs-%s.zip", time.Now().Format("20060102-150405"))
			if err := bundle.Collect(zipName, config.StateDir()); err != nil {
				return err
			}
			fmt.Printf("Created %s with logs, status, and configuration.\n", zipName)
			return nil
		},
	}
}
