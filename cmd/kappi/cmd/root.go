package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/kappi/internal/config"
	"github.com/MeKo-Tech/kappi/internal/models"
	"github.com/MeKo-Tech/kappi/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// Global configuration loader.
	configLoader *config.Loader
	// Global configuration.
	globalConfig *config.Config
	// Error from the last configuration load, reported by PersistentPreRunE.
	configErr error
	// Configuration file path.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "kappi",
	Short: "Coffee leaf disease classification",
	Long: `kappi classifies photographs of coffee leaves into a disease and a growth
stage and attaches variety specific treatment recommendations.

Every image passes a plausibility pre-filter (too dark, no leaf) before it
reaches the model, and low confidence predictions are reported as Unknown
instead of being guessed.

This tool provides:
- Single image and batch classification (text, JSON, CSV, YAML output)
- An HTTP and WebSocket API with scan history
- ONNX Runtime and TensorFlow Lite inference engines

Examples:
  kappi classify leaf.jpg
  kappi batch ./photos --format csv --output results.csv
  kappi serve --port 8080`,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _ := cmd.PersistentFlags().GetBool("version")
		if v {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
			return nil
		}
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// GetRootCommand returns the root command for testing purposes.
func GetRootCommand() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is search in ., $HOME, $HOME/.config/kappi, /etc/kappi)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output (equivalent to --log-level=debug)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")

	defaultModelsDir := models.DefaultModelsDir
	if envDir := os.Getenv(models.EnvModelsDir); envDir != "" {
		defaultModelsDir = envDir
	}
	rootCmd.PersistentFlags().String("models-dir", defaultModelsDir,
		"directory containing the classifier models (can also be set via "+models.EnvModelsDir+")")
	rootCmd.PersistentFlags().String("engine", models.EngineONNX, "inference engine (onnx, tflite)")
	rootCmd.PersistentFlags().Bool("version", false, "print version information and exit")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	_ = viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("models_dir", rootCmd.PersistentFlags().Lookup("models-dir"))
	_ = viper.BindPFlag("model.engine", rootCmd.PersistentFlags().Lookup("engine"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if globalConfig == nil && configErr == nil {
			initConfig()
		}
		if configErr != nil {
			return configErr
		}
		setupLogging(globalConfig)
		return nil
	}
}

// setupLogging installs a JSON slog handler on stderr so that results on
// stdout stay machine readable.
func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	} else {
		switch cfg.LogLevel {
		case "debug":
			level = slog.LevelDebug
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		}
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	configLoader = config.NewLoader()
	globalConfig, configErr = configLoader.LoadWithFile(cfgFile)
	if configErr != nil {
		configErr = fmt.Errorf("error loading configuration: %w", configErr)
	}
}

// GetConfig returns the global configuration, re-read from viper so that
// flags bound after the initial load are included.
func GetConfig() *config.Config {
	if globalConfig == nil {
		initConfig()
		if configErr != nil {
			d := config.DefaultConfig()
			return &d
		}
	}
	var cfg config.Config
	if err := GetConfigLoader().GetViper().Unmarshal(&cfg); err != nil {
		slog.Warn("failed to unmarshal updated configuration", "error", err)
		return globalConfig
	}
	return &cfg
}

// GetConfigLoader returns the global configuration loader.
func GetConfigLoader() *config.Loader {
	if configLoader == nil {
		configLoader = config.NewLoader()
	}
	return configLoader
}
