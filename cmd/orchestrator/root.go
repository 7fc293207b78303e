// Command orchestrator is the CLI surface for the agent task orchestration
// engine: it drives the DAG Scheduler (internal/scheduler) over a task.Plan
// built either from a JSON file or by decomposing free text, persists
// progress through the Checkpoint Manager, and reports a machine-readable
// summary on stdout per spec.md §6/§7.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"taskforge/internal/agent"
	"taskforge/internal/checkpoint"
	"taskforge/internal/config"
	"taskforge/internal/events"
	"taskforge/internal/executor"
	"taskforge/internal/logging"
	"taskforge/internal/scheduler"
	"taskforge/internal/selector"
)

// Exit codes per spec.md §6: 0 success, 1 partial failure, 2 total failure,
// 3 cancelled, 4 invalid input.
const (
	exitSuccess       = 0
	exitPartialFail   = 1
	exitTotalFailure  = 2
	exitCancelled     = 3
	exitInvalidInput  = 4
)

var (
	blue   = color.New(color.FgBlue).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	bold   = color.New(color.Bold).SprintFunc()
)

// cliError carries an explicit exit code through cobra's single-error
// RunE contract, the way the teacher's runCobraCLI maps any error to a
// process exit — generalized here to the orchestrator's five-way exit
// code contract instead of a flat 0/1.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func newCLIError(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

// CLI holds everything a subcommand needs, constructed once per process
// invocation by initialize.
type CLI struct {
	cfg           config.Config
	invoker       *agent.Invoker
	selector      *selector.Selector
	checkpoints   *checkpoint.FileManager
	bus           *events.Bus
	scheduler     *scheduler.Scheduler
	logger        *logging.Logger
	workspaceRoot string
	enabledAgents []string
	exitCode      int

	concurrency     int
	timeoutSecs     int
	continueOnError bool
	enableTools     bool
}

func newCLI() *CLI {
	return &CLI{}
}

// NewRootCommand builds the orchestrator's cobra command tree. The
// returned *CLI is the same instance every subcommand's RunE closes over;
// main reads its exitCode back after Execute returns, since a RunE can
// report a non-zero outcome (partial failure, cancellation) without
// returning a Go error.
func NewRootCommand() (*cobra.Command, *CLI) {
	cli := newCLI()

	rootCmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Agent task orchestration engine",
		Long: fmt.Sprintf(`%s

Drives a DAG of agent tasks (or a single decomposed user request) through
the scheduler, checkpointing progress so runs can be resumed after a
crash or cancellation.`, bold("Orchestrator")),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cli.workspaceRoot, "workspace", "", "Root directory for per-task workspaces (default: $ORCHESTRATOR_CHECKPOINT_DIR/../workspaces)")
	rootCmd.PersistentFlags().StringSliceVar(&cli.enabledAgents, "agents", nil, "Restrict task dispatch to these agent names (default: all configured)")
	rootCmd.PersistentFlags().IntVar(&cli.concurrency, "concurrency", 0, "Override max concurrent tasks")
	rootCmd.PersistentFlags().IntVar(&cli.timeoutSecs, "timeout", 0, "Override default per-task timeout (seconds)")
	rootCmd.PersistentFlags().BoolVar(&cli.continueOnError, "continue-on-error", false, "Keep dispatching independent tasks after a non-retriable failure")
	rootCmd.PersistentFlags().BoolVar(&cli.enableTools, "enable-tools", false, "Run tasks through the multi-round executor with shell/filesystem tools")

	rootCmd.AddCommand(cli.newRunCommand())
	rootCmd.AddCommand(cli.newResumeCommand())
	rootCmd.AddCommand(cli.newStatusCommand())
	rootCmd.AddCommand(cli.newCancelCommand())
	rootCmd.AddCommand(cli.newListCommand())

	viper.SetConfigName("orchestrator-config")
	viper.SetConfigType("json")
	viper.AddConfigPath("$HOME")
	viper.AddConfigPath(".")

	return rootCmd, cli
}

// initialize loads configuration (env vars over the viper-discovered file,
// per internal/config.Load), applies CLI flag overrides, and wires the
// scheduler and its collaborators. Safe to call more than once; only the
// first call does work.
func (cli *CLI) initialize(cmd *cobra.Command) error {
	if cli.scheduler != nil {
		return nil
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("orchestrator: loading configuration: %w", err)
	}
	if cli.concurrency > 0 {
		cfg.MaxConcurrent = cli.concurrency
	}
	if cli.timeoutSecs > 0 {
		cfg.DefaultTimeout = cli.timeoutSecs
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("orchestrator: invalid configuration: %w", err)
	}
	cli.cfg = cfg

	if cli.workspaceRoot == "" {
		cli.workspaceRoot = cfg.CheckpointDir + "/../workspaces"
	}

	cli.logger = logging.NewComponentLogger("cli")
	cli.invoker = agent.NewInvoker(cfg.AgentBinaries)
	cli.selector = selector.New()
	cli.checkpoints = checkpoint.NewFileManager(cfg.CheckpointDir)
	cli.bus = events.NewBus()

	var toolset executor.Toolset
	if cli.enableTools {
		toolset = executor.Toolset{
			"shell":      executor.NewShellTool(executor.ShellToolConfig{WorkingDir: cli.workspaceRoot}),
			"filesystem": executor.NewFilesystemTool(executor.FilesystemToolConfig{Root: cli.workspaceRoot}),
		}
	}
	cli.scheduler = scheduler.New(cli.invoker, cli.selector, cli.checkpoints, cli.bus, toolset)

	if len(cli.enabledAgents) == 0 {
		for name := range cfg.AgentBinaries {
			cli.enabledAgents = append(cli.enabledAgents, name)
		}
	}

	return nil
}

// schedulerConfig builds a scheduler.Config from the loaded config.Config
// and CLI flag overrides; every run/resume invocation checkpoints, since
// the whole point of running through the CLI instead of embedding the
// scheduler directly is to be resumable across process invocations.
func (cli *CLI) schedulerConfig() scheduler.Config {
	return scheduler.Config{
		MaxConcurrent:   cli.cfg.MaxConcurrent,
		DefaultTimeout:  time.Duration(cli.cfg.DefaultTimeout) * time.Second,
		ContinueOnError: cli.continueOnError,
		WorkspaceRoot:   cli.workspaceRoot,
		EnabledAgents:   cli.enabledAgents,
		Checkpoint:      true,
	}
}

// looksLikePlanFile reports whether input should be read as a plan.json
// path rather than decomposed as free text, per spec.md §6's
// `run <plan.json|userText>` contract.
func looksLikePlanFile(input string) bool {
	if !strings.HasSuffix(input, ".json") {
		return false
	}
	_, err := os.Stat(input)
	return err == nil
}

// withCancelSignal wires SIGINT/SIGTERM into ctx cancellation, the way the
// teacher's runOptimizedTUI/runSinglePrompt install a signal handler before
// starting work — generalized here to a cancellable context instead of a
// direct os.Exit, so the scheduler gets a chance to write a CANCELLED
// checkpoint before the process exits.
func withCancelSignal(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}
