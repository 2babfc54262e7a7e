package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/gebv/tbcpay/config"
)

var VERSION = "dev"

var (
	onLoggerDev         bool
	onLoggerDebugLevelF bool
	configPathF         string

	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "tbc-installment",
		Short: "TBC Bank online installments client",
		Long: `Creates, confirms and cancels TBC Bank installment applications.

Credentials are read from the config file and from TBC_INSTALLMENT_* environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := "INFO"
			if onLoggerDebugLevelF {
				level = "DEBUG"
			}
			defaultLogger(level, onLoggerDev)
		},
	}

	rootCmd.PersistentFlags().BoolVar(&onLoggerDev, "logger-dev", false, "Enable development logger.")
	rootCmd.PersistentFlags().BoolVar(&onLoggerDebugLevelF, "logger-debug-level", false, "Enable debug level logger.")
	rootCmd.PersistentFlags().StringVarP(&configPathF, "config", "c", "", "Path to YAML config file.")
}

func main() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(confirmCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(auditCmd())

	rootCmd.Version = VERSION
	err := rootCmd.Execute()
	_ = zap.L().Sync()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPathF)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Configure configure zap logger.
//
// Available values of level:
// - DEBUG
// - INFO
// - WARN
// - ERROR
// - DPANIC
// - PANIC
// - FATAL
func defaultLogger(levelSet string, dev bool) {
	level := zapcore.InfoLevel
	if err := level.Set(levelSet); err != nil {
		panic(err)
	}
	zcfg := zap.NewProductionConfig()
	if dev {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level.SetLevel(level)
	l, err := zcfg.Build(zap.AddStacktrace(zap.ErrorLevel))
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(l)
	zap.RedirectStdLog(l.Named("stdlog"))
}
