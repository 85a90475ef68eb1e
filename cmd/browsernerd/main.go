package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"browsernerd/internal/config"
	"browsernerd/internal/gateway"
	"browsernerd/internal/interpreter"
	"browsernerd/internal/logging"
	"browsernerd/internal/session"
	"browsernerd/internal/store"
	"browsernerd/internal/types"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Exit codes, stable for process supervisors.
const (
	exitOK     = 0
	exitConfig = 1
	exitBind   = 2
	exitDriver = 3
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Serve flag overrides applied on top of the loaded config.
	flagAddr        string
	flagAuthToken   string
	flagStorageRoot string
	flagHeadless    bool
	flagAPIKey      string
	flagModel       string

	cfg config.Config
)

// exitError carries a process exit code through cobra's error return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

var rootCmd = &cobra.Command{
	Use:   "browsernerd",
	Short: "browserNERD - session-scoped browser automation service",
	Long: `browserNERD drives real browser sessions from natural-language
instructions, records what it does into replayable scripts, and streams
live screenshots to attached websocket clients.

Each session owns exactly one browser page; all actions against it are
strictly serial. Scripts parameterize recorded values as variables and
replay with progress, pause/resume and stop control.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if _, err := logging.Initialize(verbose); err != nil {
			return &exitError{code: exitConfig, err: fmt.Errorf("initialize logger: %w", err)}
		}
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		applyFlags(cmd)
		if err := cfg.Validate(); err != nil {
			return &exitError{code: exitConfig, err: err}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the websocket gateway",
	Long: `Starts the websocket endpoint and serves sessions until interrupted.

Clients connect to /ws with a bearer token (Authorization header or the
token query parameter) and an optional session_id to rejoin a live
session. Sessions with no clients are reaped after the idle timeout.`,
	RunE: runServe,
}

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "Inspect and move stored scripts without a running server",
}

var scriptsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored scripts",
	RunE:  runScriptsList,
}

var scriptsExportCmd = &cobra.Command{
	Use:   "export [script-id]",
	Short: "Export a script as a portable package to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  runScriptsExport,
}

var scriptsImportCmd = &cobra.Command{
	Use:   "import [package-file]",
	Short: "Import a script package",
	Args:  cobra.ExactArgs(1),
	RunE:  runScriptsImport,
}

var (
	exportCompress bool
	importConflict string
	importDryRun   bool
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&flagStorageRoot, "storage-root", "", "Script storage directory")

	serveCmd.Flags().StringVar(&flagAddr, "addr", "", "Listen address (default :7079)")
	serveCmd.Flags().StringVar(&flagAuthToken, "auth-token", "", "Bearer token required from clients (or BROWSERNERD_AUTH_TOKEN)")
	serveCmd.Flags().BoolVar(&flagHeadless, "headless", true, "Run the browser headless")
	serveCmd.Flags().StringVar(&flagAPIKey, "planner-api-key", "", "GenAI API key for the instruction planner (or BROWSERNERD_PLANNER_API_KEY)")
	serveCmd.Flags().StringVar(&flagModel, "planner-model", "", "Planner model name")

	scriptsExportCmd.Flags().BoolVar(&exportCompress, "compress", false, "Gzip-compress the package")
	scriptsImportCmd.Flags().StringVar(&importConflict, "on-conflict", "rename", "Name conflict policy: rename, skip, overwrite")
	scriptsImportCmd.Flags().BoolVar(&importDryRun, "validate-only", false, "Validate the package without persisting")

	scriptsCmd.AddCommand(scriptsListCmd)
	scriptsCmd.AddCommand(scriptsExportCmd)
	scriptsCmd.AddCommand(scriptsImportCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scriptsCmd)
}

// applyFlags layers explicitly-set flags over the loaded config.
func applyFlags(cmd *cobra.Command) {
	if cmd.Flags().Changed("addr") {
		cfg.Gateway.Addr = flagAddr
	}
	if cmd.Flags().Changed("auth-token") {
		cfg.Gateway.AuthToken = flagAuthToken
	}
	if flagStorageRoot != "" {
		cfg.Storage.Root = flagStorageRoot
	}
	if cmd.Flags().Changed("headless") {
		cfg.Browser.Headless = flagHeadless
	}
	if cmd.Flags().Changed("planner-api-key") {
		cfg.Planner.APIKey = flagAPIKey
	}
	if cmd.Flags().Changed("planner-model") {
		cfg.Planner.Model = flagModel
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if ee, ok := err.(*exitError); ok {
			os.Exit(ee.code)
		}
		os.Exit(exitConfig)
	}
	os.Exit(exitOK)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logging.Get(logging.CategoryBoot)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Storage.Root, cfg.Storage.Watch)
	if err != nil {
		return &exitError{code: exitConfig, err: fmt.Errorf("open script store: %w", err)}
	}
	defer func() { _ = st.Close() }()

	var planner interpreter.Planner
	if cfg.Planner.Enabled() {
		p, err := interpreter.NewGenAIPlanner(ctx, cfg.Planner)
		if err != nil {
			return &exitError{code: exitDriver, err: fmt.Errorf("construct planner: %w", err)}
		}
		planner = p
		log.Info("planner enabled", zap.String("model", cfg.Planner.GetModel()))
	} else {
		log.Info("planner disabled; instructions resolve through patterns and page grounding only")
	}

	registry := session.NewRegistry(cfg, st, planner, nil)
	defer registry.Close()

	srv := gateway.NewServer(cfg.Gateway, registry)
	log.Info("starting browsernerd",
		zap.String("addr", cfg.Gateway.GetAddr()),
		zap.String("storage", cfg.Storage.Root),
		zap.Bool("headless", cfg.Browser.Headless))

	if err := srv.ListenAndServe(ctx); err != nil {
		return &exitError{code: exitBind, err: fmt.Errorf("gateway: %w", err)}
	}
	log.Info("shut down cleanly")
	return nil
}

func runScriptsList(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Storage.Root, false)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	defer func() { _ = st.Close() }()

	scripts := st.List()
	if len(scripts) == 0 {
		fmt.Println("no scripts stored")
		return nil
	}
	for _, s := range scripts {
		fmt.Printf("%s  %-30s  %2d steps  %d variables  %s\n",
			s.ID, s.Name, s.StepCount, s.VariableCount, s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return nil
}

func runScriptsExport(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Storage.Root, false)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	defer func() { _ = st.Close() }()

	data, err := st.Export(args[0], store.ExportOptions{Compress: exportCompress})
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(data)
	return err
}

func runScriptsImport(cmd *cobra.Command, args []string) error {
	st, err := store.Open(cfg.Storage.Root, false)
	if err != nil {
		return &exitError{code: exitConfig, err: err}
	}
	defer func() { _ = st.Close() }()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	report, err := st.Import(data, store.ImportOptions{
		Conflict:     importConflict,
		ValidateOnly: importDryRun,
	})
	if err != nil {
		if te, ok := err.(*types.Error); ok {
			return fmt.Errorf("import rejected: %s", te.Message)
		}
		return err
	}
	if report.Skipped {
		fmt.Printf("skipped: %q already exists\n", report.ScriptName)
		return nil
	}
	if importDryRun {
		fmt.Printf("package valid: %q, %d actions, %d variables\n",
			report.ScriptName, report.ActionCount, report.VariableCount)
		return nil
	}
	fmt.Printf("imported %q as %s\n", report.ScriptName, report.ScriptID)
	return nil
}
