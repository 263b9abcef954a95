package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"mediaindex/internal/config"
	"mediaindex/internal/ipc"
	"mediaindex/internal/preflight"
)

type statusView struct {
	ConfigPath string              `json:"config_path"`
	Daemon     *ipc.StatusResponse `json:"daemon,omitempty"`
	Checks     []preflight.Result  `json:"checks"`
	Waiting    int                 `json:"waiting"`
	Stranded   int                 `json:"stranded"`
}

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	var statusJSON bool
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, directory and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			var daemonStatus *ipc.StatusResponse
			err = ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Status()
				daemonStatus = resp
				return err
			})
			if err != nil && !errors.Is(err, errDaemonNotRunning) {
				return err
			}

			view := statusView{
				ConfigPath: ctx.configPath,
				Daemon:     daemonStatus,
				Checks:     preflight.RunAll(cmd.Context(), cfg),
			}
			backlog := preflight.ProbeBacklog(cfg)
			view.Waiting, view.Stranded = backlog.Waiting, backlog.Stranded
			if statusJSON {
				return writeJSON(cmd, view)
			}
			renderStatus(cmd, ctx, cfg, view, backlog)
			return nil
		},
	}
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")

	addCmd := &cobra.Command{
		Use:   "add <file>...",
		Short: "Submit files to the running daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := make([]string, 0, len(args))
			for _, arg := range args {
				expanded, err := config.ExpandPath(arg)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", arg, err)
				}
				abs, err := filepath.Abs(expanded)
				if err != nil {
					return fmt.Errorf("resolve %q: %w", arg, err)
				}
				paths = append(paths, abs)
			}
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Submit(paths)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				for _, path := range resp.Accepted {
					fmt.Fprintf(out, "Queued %s\n", path)
				}
				for _, rejected := range resp.Rejected {
					fmt.Fprintf(out, "Rejected %s: %s\n", rejected.Path, rejected.Reason)
				}
				if len(resp.Rejected) > 0 {
					return fmt.Errorf("%d of %d files rejected", len(resp.Rejected), len(paths))
				}
				return nil
			})
		},
	}

	var wait bool
	var waitTimeout time.Duration
	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop intake and drain the daemon's pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			err := ctx.withClient(func(client *ipc.Client) error {
				_, err := client.Stop()
				return err
			})
			if errors.Is(err, errDaemonNotRunning) {
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "Stop requested; in-flight files are drained before exit")
			if !wait {
				return nil
			}
			if err := waitForExit(ctx.socketPath(), waitTimeout); err != nil {
				return err
			}
			fmt.Fprintln(out, "Daemon stopped")
			return nil
		},
	}
	stopCmd.Flags().BoolVar(&wait, "wait", false, "Wait until the daemon has exited")
	stopCmd.Flags().DurationVar(&waitTimeout, "timeout", 10*time.Minute, "Maximum time to wait with --wait")

	return []*cobra.Command{statusCmd, addCmd, stopCmd}
}

// waitForExit polls the socket until the daemon stops accepting connections.
func waitForExit(socket string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		client, err := ipc.Dial(socket)
		if err != nil {
			return nil
		}
		client.Close()
		time.Sleep(200 * time.Millisecond)
	}
	return fmt.Errorf("daemon still running after %s", timeout)
}

func renderStatus(cmd *cobra.Command, ctx *commandContext, cfg *config.Config, view statusView, backlog preflight.Backlog) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	configDetail := view.ConfigPath
	if !ctx.configSeen {
		configDetail += " (not found; defaults in use)"
	}
	daemonLine := renderStatusLine("Daemon", statusInfo, "Not running", colorize)
	if d := view.Daemon; d != nil {
		if d.Running {
			daemonLine = renderStatusLine("Daemon", statusOK, fmt.Sprintf("Running (pid %d)", d.PID), colorize)
		} else {
			daemonLine = renderStatusLine("Daemon", statusWarn, fmt.Sprintf("Draining (pid %d)", d.PID), colorize)
		}
	}
	writeSection(out, "System Status", colorize,
		daemonLine,
		renderStatusLine("Config", statusInfo, configDetail, colorize),
		renderStatusLine("Results ledger", statusInfo, cfg.LedgerPath(), colorize),
	)

	dirLines := make([]string, 0, len(view.Checks))
	for _, check := range view.Checks {
		dirLines = append(dirLines, renderStatusLine(check.Name, passFail(check.Passed), check.Detail, colorize))
	}
	writeSection(out, "Paths", colorize, dirLines...)

	intakeKind := statusOK
	switch {
	case backlog.Err != nil:
		intakeKind = statusError
	case backlog.Stranded > 0 && view.Daemon == nil:
		intakeKind = statusWarn
	}
	writeSection(out, "Intake", colorize,
		renderStatusLine("Pattern", statusInfo, cfg.Intake.Pattern, colorize),
		renderStatusLine("Backlog", intakeKind, backlog.Detail(), colorize),
	)

	d := view.Daemon
	if d == nil {
		return
	}
	capacity := "unbounded"
	if d.MaxInFlight > 0 {
		capacity = strconv.Itoa(d.MaxInFlight)
	}
	writeSectionHeader(out, "Pipeline", colorize)
	fmt.Fprintln(out, renderStatusLine("In flight", statusInfo, fmt.Sprintf("%d (limit %s)", d.InFlight, capacity), colorize))
	rows := make([][]string, 0, len(d.Stages))
	for _, st := range d.Stages {
		health := "ready"
		if !st.Ready {
			health = st.Detail
		}
		rows = append(rows, []string{
			stageLabel(st.Name),
			strconv.Itoa(st.Workers),
			strconv.Itoa(st.Queued),
			strconv.Itoa(st.Active),
			strconv.Itoa(st.PeakActive),
			strconv.FormatInt(st.Completed, 10),
			strconv.FormatInt(st.Failed, 10),
			health,
		})
	}
	fmt.Fprint(out, renderTable(
		[]string{"Stage", "Workers", "Queued", "Active", "Peak", "Completed", "Failed", "Health"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))
}
