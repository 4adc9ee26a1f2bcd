package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logPretty  bool
)

// rootCmd is the base command for the CryptoGate CLI
var rootCmd = &cobra.Command{
	Use:   "cryptogate",
	Short: "CryptoGate trade admission and execution pipeline",
	Long: `CryptoGate sits between signal producers and order execution. Every
incoming signal is arbitrated against competing signals, checked against rate
budgets, circuit breakers and compliance policy, sized with Kelly criterion,
routed to the best-priced venue and then managed through breakeven stops,
trailing stops and profit-target ladders until exit.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("CryptoGate admission pipeline")
		fmt.Println("Use 'cryptogate run' to start the pipeline or 'cryptogate check' to validate configuration")
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML configuration file (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "log-pretty", false, "Human-readable console logging instead of JSON")
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	if logPretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
