// Command todosync keeps a live client-side view of a task project in sync
// with its backend: one bulk load, then a realtime event stream, rendered to
// a WebSocket dashboard.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Erikvl87/todosync/internal/config"
)

// version is stamped at build time.
var version = "dev"

var (
	cfgFile string
	vp      = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "todosync",
	Short: "Live sync engine for hierarchical task projects",
	Long: `todosync keeps a client-side view of a hierarchical task/section project
consistent with a backend: a one-shot bulk load followed by a realtime event
stream that may arrive out of order, duplicated, or stale.

The synced tree is served to WebSocket dashboard clients with debounced,
animation-aware render passes.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the todosync version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("todosync %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./todosync.yaml)")
	rootCmd.PersistentFlags().String("api-base-url", "", "backend base URL")
	rootCmd.PersistentFlags().String("api-token", "", "backend API token")
	rootCmd.PersistentFlags().String("project", "", "project id to sync")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	mustBind("api_base_url", "api-base-url")
	mustBind("api_token", "api-token")
	mustBind("project_id", "project")
	mustBind("log_level", "log-level")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(versionCmd)
}

// mustBind wires a persistent flag to its viper key.
func mustBind(key, flag string) {
	if err := vp.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

// loadConfig reads the effective configuration for a command invocation.
func loadConfig() (*config.Config, error) {
	return config.Load(vp, cfgFile)
}

// newLogger builds the process logger from config: stderr by default, a
// rotating file when log_file is set.
func newLogger(cfg *config.Config) *log.Logger {
	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
		}
	}

	logger := log.NewWithOptions(w, log.Options{ReportTimestamp: true})
	if lvl, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
