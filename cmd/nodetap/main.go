package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot assembles the CLI: `run` hosts the control plane, everything
// else is a REST client against a running one.
func buildRoot() *cobra.Command {
	cli := &command{}

	root := &cobra.Command{
		Use:   "nodetap",
		Short: "External debugging control plane for supervised targets",
		Long: `Nodetap supervises one target program, captures its output, attaches a
remote-debugging session when the target announces an inspector endpoint,
and coordinates breakpoints, pauses and in-process evaluation.

Examples:
  nodetap run -- node server.js                  # Supervise with defaults
  nodetap run --debug --watch=src -- node app.js # Inspector + restart on change
  nodetap run --config=nodetap.toml              # Everything from config
  nodetap status                                 # Query the running instance
  nodetap bp set --file=srv.js --line=42         # Persisted breakpoint`,
	}

	root.AddCommand(
		createRunCommand(),
		createStatusCommand(cli),
		createStartCommand(cli),
		createStopCommand(cli),
		createRestartCommand(cli),
		createLogsCommand(cli),
		createStdinCommand(cli),
		createResumeCommand(cli),
		createTriggerCommand(cli),
		createStepCommand(cli),
		createEvalCommand(cli),
		createGlobalsCommand(cli),
		createPromptsCommand(cli),
		createStateCommand(cli),
		createResourcesCommand(cli),
		createBreakpointCommand(cli),
		createPatternCommand(cli),
	)
	return root
}

// addClientFlags attaches the connection flags every client verb shares.
func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "control API URL (default http://127.0.0.1:7070)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

func createRunCommand() *cobra.Command {
	flags := &RunFlags{}

	cmd := &cobra.Command{
		Use:   "run [flags] -- <command> [args...]",
		Short: "Supervise a target and host the control plane",
		Long: `Run starts the target under supervision, serves the control API, and
keeps both alive until SIGINT/SIGTERM.

Examples:
  nodetap run -- node server.js
  nodetap run --debug --agent --eval -- node server.js
  nodetap run --watch=src --watch=lib -- node server.js
  nodetap run --config=nodetap.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlPlane(flags, args, cmd.Flags().Changed("listen"))
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().StringVar(&flags.Name, "name", "", "target name (defaults to the command basename)")
	cmd.Flags().StringVar(&flags.WorkDir, "workdir", "", "working directory for the target")
	cmd.Flags().StringVar(&flags.Listen, "listen", "127.0.0.1:7070", "control API address (empty disables)")
	cmd.Flags().StringVar(&flags.History, "history", "", "history sink DSN (sqlite path, postgres:// or clickhouse://)")
	cmd.Flags().StringVar(&flags.StorePath, "breakpoint-store", "", "sqlite file for persisted breakpoints")
	cmd.Flags().StringSliceVar(&flags.Watch, "watch", nil, "paths to watch; a source change restarts the target")
	cmd.Flags().BoolVar(&flags.Debug, "debug", false, "launch with the inspector enabled (--inspect-brk)")
	cmd.Flags().BoolVar(&flags.Agent, "agent", false, "enable in-process agent injection over the IPC pipe")
	cmd.Flags().BoolVar(&flags.Eval, "eval", false, "allow ad hoc evaluation inside the target (implies --agent)")
	cmd.Flags().BoolVar(&flags.Interactive, "interactive", false, "keep stdin open and note when the target goes idle")
	cmd.Flags().BoolVar(&flags.AutoRestart, "autorestart", false, "restart the target after a crash")
	cmd.Flags().BoolVar(&flags.Verbose, "verbose", false, "debug-level controller logging")

	return cmd
}

func createStatusCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show target and debug-session status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Status(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStartCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the configured target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Start(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStopCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stop(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createRestartCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Restart(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createLogsCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	var n int
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print recent captured log records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Logs(*flags, n)
		},
	}
	cmd.Flags().IntVar(&n, "n", 100, "number of records")
	addClientFlags(cmd, flags)
	return cmd
}

func createStdinCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	var line string
	cmd := &cobra.Command{
		Use:   "stdin",
		Short: "Send a line to the target's standard input",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Stdin(*flags, line)
		},
	}
	cmd.Flags().StringVar(&line, "line", "", "line to send (required)")
	_ = cmd.MarkFlagRequired("line")
	addClientFlags(cmd, flags)
	return cmd
}

func createResumeCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	var returnValue string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Release the active pause",
		Long: `Release whatever pause is active: an engine breakpoint, a log-pattern
pause or an explicit agent breakpoint. An optional return value is handed
to a blocked agent Breakpoint() call.

Examples:
  nodetap resume
  nodetap resume --return-value='{"retry": true}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Resume(*flags, returnValue)
		},
	}
	cmd.Flags().StringVar(&returnValue, "return-value", "", "value returned to the blocked breakpoint (JSON or string)")
	addClientFlags(cmd, flags)
	return cmd
}

func createTriggerCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	var label string
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Pause the target at its next agent checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Trigger(*flags, label)
		},
	}
	cmd.Flags().StringVar(&label, "label", "", "label attached to the pause")
	addClientFlags(cmd, flags)
	return cmd
}

func createStepCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	var action string
	cmd := &cobra.Command{
		Use:   "step",
		Short: "Step the paused target (over, into, out)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Step(*flags, action)
		},
	}
	cmd.Flags().StringVar(&action, "action", "over", "step action: over, into or out")
	addClientFlags(cmd, flags)
	return cmd
}

func createEvalCommand(cli *command) *cobra.Command {
	flags := &EvalFlags{}
	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Evaluate code inside the target",
		Long: `Evaluate code in the target through the in-process agent. Requires the
target to run with --eval.

Examples:
  nodetap eval --code='orders.total()'
  nodetap eval --code='cache.size()' --timeout=2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Eval(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Code, "code", "", "code to evaluate (required)")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "evaluation timeout (default 5s)")
	_ = cmd.MarkFlagRequired("code")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}

func createGlobalsCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "globals",
		Short: "List agent-visible global state keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Globals(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createPromptsCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "prompts",
		Short: "Drain queued breakpoint prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Prompts(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createStateCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the agent's last state snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.State(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createResourcesCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "resources",
		Short: "Show sampled CPU/memory usage of the target",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.Resources(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createBreakpointCommand(cli *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bp",
		Short: "Manage persisted breakpoints",
		Long: `Persisted breakpoints are keyed by (file, line, condition) and survive
target restarts; they are re-installed on every debugger attach.

Examples:
  nodetap bp set --file=server.js --line=42
  nodetap bp set --file=server.js --line=42 --condition='order.total > 100'
  nodetap bp list
  nodetap bp rm --file=server.js --line=42`,
	}
	cmd.AddCommand(
		createBreakpointSetCommand(cli),
		createBreakpointListCommand(cli),
		createBreakpointRemoveCommand(cli),
		createBreakpointEnableCommand(cli),
	)
	return cmd
}

func createBreakpointSetCommand(cli *command) *cobra.Command {
	flags := &BreakpointFlags{}
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Install or update a breakpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.BreakpointSet(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "source file (required)")
	cmd.Flags().IntVar(&flags.Line, "line", 0, "1-based line number (required)")
	cmd.Flags().StringVar(&flags.Condition, "condition", "", "condition expression")
	cmd.Flags().StringVar(&flags.Prompt, "prompt", "", "prompt queued when the breakpoint hits")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("line")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}

func createBreakpointListCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List persisted breakpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.BreakpointList(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createBreakpointRemoveCommand(cli *command) *cobra.Command {
	flags := &BreakpointFlags{}
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove a breakpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.BreakpointRemove(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "source file (required)")
	cmd.Flags().IntVar(&flags.Line, "line", 0, "1-based line number (required)")
	cmd.Flags().StringVar(&flags.Condition, "condition", "", "condition expression")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("line")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}

func createBreakpointEnableCommand(cli *command) *cobra.Command {
	flags := &BreakpointFlags{}
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable or disable a breakpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.BreakpointEnable(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.File, "file", "", "source file (required)")
	cmd.Flags().IntVar(&flags.Line, "line", 0, "1-based line number (required)")
	cmd.Flags().StringVar(&flags.Condition, "condition", "", "condition expression")
	cmd.Flags().BoolVar(&flags.Enabled, "enabled", true, "desired state")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("line")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}

func createPatternCommand(cli *command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pattern",
		Short: "Manage conditional log-pattern breakpoints",
		Long: `Pattern breakpoints pause the target when a captured log line contains
the pattern (case-insensitive). Only the first registered match fires.

Examples:
  nodetap pattern add --pattern='connection refused' --label=net-down
  nodetap pattern list
  nodetap pattern rm --pattern='connection refused'`,
	}
	cmd.AddCommand(
		createPatternAddCommand(cli),
		createPatternListCommand(cli),
		createPatternRemoveCommand(cli),
		createPatternEnableCommand(cli),
	)
	return cmd
}

func createPatternAddCommand(cli *command) *cobra.Command {
	flags := &PatternFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PatternAdd(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Pattern, "pattern", "", "substring to match (required)")
	cmd.Flags().StringVar(&flags.Label, "label", "", "label attached to the pause")
	_ = cmd.MarkFlagRequired("pattern")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}

func createPatternListCommand(cli *command) *cobra.Command {
	flags := &ClientFlags{}
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PatternList(*flags)
		},
	}
	addClientFlags(cmd, flags)
	return cmd
}

func createPatternRemoveCommand(cli *command) *cobra.Command {
	flags := &PatternFlags{}
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Remove a pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PatternRemove(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Pattern, "pattern", "", "pattern to remove (required)")
	_ = cmd.MarkFlagRequired("pattern")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}

func createPatternEnableCommand(cli *command) *cobra.Command {
	flags := &PatternFlags{}
	cmd := &cobra.Command{
		Use:   "enable",
		Short: "Enable or disable a pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cli.PatternEnable(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.Pattern, "pattern", "", "pattern to flip (required)")
	cmd.Flags().BoolVar(&flags.Enabled, "enabled", true, "desired state")
	_ = cmd.MarkFlagRequired("pattern")
	addClientFlags(cmd, &flags.ClientFlags)
	return cmd
}
