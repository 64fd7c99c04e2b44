package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/zjrosen/agentmap/internal/config"
	"github.com/zjrosen/agentmap/internal/log"
)

const defaultConfigPath = ".agentmap/config.yaml"

var (
	version = "dev"
	cfgFile string
	cfg     config.Config

	debugLog   bool
	logFile    string
	textOutput bool

	closeLog func()
)

var rootCmd = &cobra.Command{
	Use:   "agentmap",
	Short: "Compile CSV workflow definitions into dependency-resolved bundles",
	Long: `agentmap compiles tabular workflow definitions into bundle artifacts.

Each bundle pairs the validated node graph with the agent types, services,
and protocols it needs, resolved against the declaration registry. Bundles
are reused while the CSV content is unchanged.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(cfg); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		return setupLogging()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			closeLog()
			closeLog = nil
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .agentmap/config.yaml, then ~/.config/agentmap/config.yaml)")
	rootCmd.PersistentFlags().String("csv", "", "workflow CSV path")
	rootCmd.PersistentFlags().StringP("output", "o", "", "bundle output directory")
	rootCmd.PersistentFlags().BoolVar(&debugLog, "debug", false, "log debug output to stderr")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append logs to this file")
	rootCmd.PersistentFlags().BoolVar(&textOutput, "text", false, "print tables instead of JSON")

	_ = viper.BindPFlag("csv_path", rootCmd.PersistentFlags().Lookup("csv"))
	_ = viper.BindPFlag("compiler.output_dir", rootCmd.PersistentFlags().Lookup("output"))
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("compiler.output_dir", defaults.Compiler.OutputDir)
	viper.SetDefault("compiler.cache_ttl", defaults.Compiler.CacheTTL)
	viper.SetDefault("registry.core_services", defaults.Registry.CoreServices)
	viper.SetDefault("catalog.enabled", defaults.Catalog.Enabled)
	viper.SetDefault("catalog.keep", defaults.Catalog.Keep)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.file_path", defaults.Tracing.FilePath)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("watch.debounce", defaults.Watch.Debounce)
	viper.SetDefault("log_level", defaults.LogLevel)

	viper.SetEnvPrefix("AGENTMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .agentmap/config.yaml (current directory)
		// 2. ~/.config/agentmap/config.yaml (user config)
		if _, err := os.Stat(defaultConfigPath); err == nil {
			viper.SetConfigFile(defaultConfigPath)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "agentmap"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	// A missing config file is fine; defaults apply.
	_ = viper.ReadInConfig()

	cfg = defaults
	_ = viper.Unmarshal(&cfg)
}

func setupLogging() error {
	switch {
	case logFile != "":
		cleanup, err := log.Init(logFile)
		if err != nil {
			return err
		}
		closeLog = cleanup
		log.SetMinLevel(log.ParseLevel(cfg.LogLevel))
	case debugLog:
		log.SetOutput(os.Stderr)
		log.SetMinLevel(log.LevelDebug)
	default:
		log.SetOutput(os.Stderr)
		log.SetMinLevel(log.LevelWarn)
	}
	if debugLog {
		log.SetMinLevel(log.LevelDebug)
	}
	log.Debug(log.CatConfig, "configuration loaded", "file", viper.ConfigFileUsed(), "output_dir", cfg.Compiler.OutputDir)
	return nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
