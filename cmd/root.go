package cmd

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ingest-quality-service/internal/config"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "ingest-quality",
	Short: "Assess, standardize and sync regulatory data feeds",
	Long: `Ingest Quality Service - data quality checks and sync coordination for ingested records.

Every batch is standardized (countries, dates, categories), validated against
declarative rules, checked for exact and near duplicates, and scored 0-100.

Commands:
  assess       - Assess a batch of records and produce quality reports
  standardize  - Normalize a batch of records and write the result
  sync         - Fetch every configured source once
  schedule     - Re-sync sources on their cron schedules and serve /metrics
  completion   - Generate shell completion scripts

Configuration is read from --config or the INGEST_CONFIG environment variable.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := newLogger(logLevel, logFormat)
		if err != nil {
			return err
		}
		logger = l
		zap.ReplaceGlobals(l)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for ingest-quality.

Bash:
  $ source <(ingest-quality completion bash)

Zsh:
  $ ingest-quality completion zsh > "${fpath[1]}/_ingest-quality"

Fish:
  $ ingest-quality completion fish | source

PowerShell:
  PS> ingest-quality completion powershell | Out-String | Invoke-Expression
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			return cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			return cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv(config.EnvConfigPath), "Configuration file (or use INGEST_CONFIG env var)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "Log format: json or console")

	rootCmd.AddCommand(assessCmd)
	rootCmd.AddCommand(standardizeCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(scheduleCmd)
	rootCmd.AddCommand(completionCmd)
}

// newLogger builds a production (JSON) or development (console) logger
// writing to stderr, so stdout stays free for reports.
func newLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, eris.Wrapf(err, "invalid --log-level %q", level)
	}

	var cfg zap.Config
	switch format {
	case "json":
		cfg = zap.NewProductionConfig()
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		return nil, eris.Errorf("invalid --log-format %q: use json or console", format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	l, err := cfg.Build()
	if err != nil {
		return nil, eris.Wrap(err, "failed to build logger")
	}
	return l, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		logger.Debug("configuration loaded", zap.String("path", configPath), zap.Int("sources", len(cfg.Sources)))
	}
	return cfg, nil
}

// parseOutputFormats parses comma-separated output formats
func parseOutputFormats(formats string) []string {
	if formats == "" {
		return []string{"text"}
	}

	var result []string
	for _, part := range strings.Split(formats, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, strings.ToLower(trimmed))
		}
	}
	return result
}

// contains checks if a slice contains a string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
