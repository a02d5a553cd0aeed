package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"todoforge/internal/compress"
	"todoforge/internal/config"
	"todoforge/internal/congress"
	"todoforge/internal/logging"
	"todoforge/internal/ollama"
	"todoforge/internal/store"
	"todoforge/internal/workflow"
)

var (
	// Global flags
	verbose   bool
	workspace string

	// Logger for the CLI layer itself; package loggers handle the rest.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forge",
	Short: "todoforge - TODO-driven AI code modification pipeline",
	Long: `todoforge turns a TODO specification into reviewed code changes.

It runs a five-phase workflow (Analyze, Plan, Execute, Test, Report)
against a local Ollama-compatible completion service. Oversized context
is recursively compressed to fit the model window, each generated edit
can be put before a three-persona voting congress, and a generated test
script is the one authority on whether the change survives: a non-zero
exit always aborts the commit, whatever the models claim.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.Sync()
	},
}

// initCmd sets up the .forge directory in the workspace
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize todoforge in the workspace",
	Long: `Creates the .forge/ directory with a default config.json and
personas.yaml, ready to edit before the first run.`,
	RunE: runInit,
}

// runCmd executes the full workflow once
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the TODO workflow (Analyze, Plan, Execute, Test, Report)",
	Long: `Reads the TODO specification, analyzes the repository, plans and
applies file operations, then generates and executes a test script.

The test script's exit code is authoritative: non-zero aborts the commit
regardless of the AI assessment of the output.`,
	RunE: runWorkflow,
}

// modelsCmd lists models available on the completion service
var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List models available on the completion service",
	RunE:  listModels,
}

// pullCmd downloads a model
var pullCmd = &cobra.Command{
	Use:   "pull [model]",
	Short: "Pull a model onto the completion service",
	Args:  cobra.ExactArgs(1),
	RunE:  pullModel,
}

// congressCmd groups congress inspection commands
var congressCmd = &cobra.Command{
	Use:   "congress",
	Short: "Inspect congress voting records",
}

var historyRunID string

var congressHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the voting sessions recorded for a run",
	RunE:  showHistory,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")

	congressHistoryCmd.Flags().StringVar(&historyRunID, "run", "", "run id to show (required)")
	congressHistoryCmd.MarkFlagRequired("run")

	congressCmd.AddCommand(congressHistoryCmd)
	rootCmd.AddCommand(initCmd, runCmd, modelsCmd, pullCmd, congressCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func resolveWorkspace() (string, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	return abs, nil
}

func runInit(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	cfg := config.Default()
	if err := config.Save(ws, cfg); err != nil {
		return err
	}

	personaPath := filepath.Join(ws, cfg.PersonaFile)
	if _, err := os.Stat(personaPath); os.IsNotExist(err) {
		doc := struct {
			Personas []congress.Persona `yaml:"personas"`
		}{Personas: congress.DefaultPersonas(cfg.Model)}
		data, err := yaml.Marshal(doc)
		if err != nil {
			return fmt.Errorf("failed to marshal personas: %w", err)
		}
		if err := os.WriteFile(personaPath, data, 0644); err != nil {
			return fmt.Errorf("failed to write persona file: %w", err)
		}
	}

	fmt.Printf("Initialized todoforge in %s\n", filepath.Join(ws, ".forge"))
	fmt.Printf("  config:   %s\n", config.Path(ws))
	fmt.Printf("  personas: %s\n", personaPath)
	return nil
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}

	cfg, err := config.Load(ws)
	if err != nil {
		return err
	}
	if err := logging.Initialize(ws, cfg.Logging); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	client := ollama.NewClient(cfg.OllamaHost)
	metrics := compress.NewCollector()
	compressor := compress.New(client, metrics)
	compressor.SetMaxRounds(cfg.MaxCompressionRounds)
	compressor.SetUsablePercent(cfg.UsableBudgetPercent)

	st, err := store.OpenForWorkspace(ws)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	runID := workflow.NewRunID()

	todoPath := filepath.Join(ws, cfg.TodoFile)
	var evaluator workflow.Evaluator
	if cfg.CongressEnabled {
		todo, err := os.ReadFile(todoPath)
		if err != nil {
			return fmt.Errorf("failed to read TODO specification: %w", err)
		}
		personas, err := loadPersonas(ws, cfg)
		if err != nil {
			return err
		}
		cong, err := congress.New(client, personas, string(todo))
		if err != nil {
			return err
		}
		cong.SetVoteTimeout(time.Duration(cfg.VoteTimeoutSeconds) * time.Second)
		cong.SetSink(st.SessionSink(runID))
		evaluator = cong
	}

	coordinator := workflow.New(client, compressor, evaluator, metrics, st, workflow.Config{
		Workspace:       ws,
		TodoPath:        todoPath,
		RunID:           runID,
		AnalyzeModel:    cfg.ModelFor("analyze"),
		PlanModel:       cfg.ModelFor("plan"),
		ExecuteModel:    cfg.ModelFor("execute"),
		TestModel:       cfg.ModelFor("test"),
		TestTimeout:     time.Duration(cfg.TestTimeoutSeconds) * time.Second,
		ValidateActions: cfg.CongressEnabled,
	})

	ctx, stop := signalContext()
	defer stop()

	result, err := coordinator.Run(ctx)
	if err != nil {
		return err
	}

	printResult(result)
	if result.CommitAborted {
		os.Exit(2)
	}
	return nil
}

func loadPersonas(ws string, cfg config.Config) ([]congress.Persona, error) {
	path := cfg.PersonaFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(ws, path)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return congress.DefaultPersonas(cfg.Model), nil
	}
	return congress.LoadPersonaFile(path, cfg.Model)
}

func printResult(result *workflow.Result) {
	fmt.Printf("Run:    %s\n", result.RunID)
	fmt.Printf("State:  %s\n", result.State)
	fmt.Printf("Branch: %s\n", result.Branch)

	fmt.Printf("Files:  %d\n", len(result.Files))
	for _, f := range result.Files {
		status := "applied"
		switch {
		case f.Rejected:
			status = "rejected by congress"
		case f.Err != "":
			status = "failed: " + f.Err
		case !f.Applied:
			status = "skipped"
		}
		fmt.Printf("  %-6s %s  [%s]\n", f.Op, f.Path, status)
	}

	fmt.Printf("Test:   exit=%d verdict=%s duration=%s\n",
		result.Test.ExitCode, result.Test.Verdict, result.Test.Duration.Round(time.Millisecond))
	if result.CommitAborted {
		fmt.Println("Commit: ABORTED (test script failed)")
	} else {
		fmt.Println("Commit: allowed")
	}

	if len(result.Decisions) > 0 {
		fmt.Printf("Votes:  %d sessions\n", len(result.Decisions))
	}
	if len(result.Compression) > 0 {
		for _, a := range result.Compression {
			fmt.Printf("Compression: %d -> %d tokens in %d rounds (success=%v)\n",
				a.OriginalTokens, a.FinalTokens, a.Rounds, a.Success)
		}
	}
}

func listModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}
	client := ollama.NewClient(cfg.OllamaHost)

	ctx, stop := signalContext()
	defer stop()

	models, err := client.ListModels(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("No models installed.")
		return nil
	}
	for _, m := range models {
		fmt.Printf("%-40s %8.1f GB  %s\n", m.Name, float64(m.Size)/1e9, m.ModifiedAt.Format("2006-01-02"))
	}
	return nil
}

func pullModel(cmd *cobra.Command, args []string) error {
	cfg, err := loadWorkspaceConfig()
	if err != nil {
		return err
	}
	client := ollama.NewClient(cfg.OllamaHost)

	ctx, stop := signalContext()
	defer stop()

	model := args[0]
	fmt.Printf("Pulling %s...\n", model)
	err = client.Pull(ctx, model, func(p ollama.PullProgress) {
		if p.Total > 0 {
			fmt.Printf("\r%s: %3d%%", p.Status, p.Completed*100/p.Total)
		} else {
			fmt.Printf("\r%s", p.Status)
		}
	})
	fmt.Println()
	if err != nil {
		return err
	}
	fmt.Printf("Pulled %s\n", model)
	return nil
}

func showHistory(cmd *cobra.Command, args []string) error {
	ws, err := resolveWorkspace()
	if err != nil {
		return err
	}
	st, err := store.OpenForWorkspace(ws)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer st.Close()

	sessions, err := st.ListSessions(historyRunID)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Printf("No voting sessions recorded for run %s\n", historyRunID)
		return nil
	}

	for _, s := range sessions {
		outcome := "REJECTED"
		if s.Decision.Approved {
			outcome = "APPROVED"
		}
		fmt.Printf("Session %d [%s] %s %d-%d\n", s.Sequence, s.DecisionType, outcome, s.Decision.Yes, s.Decision.No)
		for _, v := range s.Decision.Votes {
			mark := "NO "
			if v.Approve {
				mark = "YES"
			}
			fmt.Printf("  %s %-10s conf=%.2f  %s\n", mark, v.Persona, v.Confidence, v.Reason)
		}
	}
	return nil
}

func loadWorkspaceConfig() (config.Config, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(ws)
}
