// Package main provides photo-ai, the operator CLI for the AI pipeline and
// the Nostalgia Feed. It talks to the same DynamoDB table, photo database,
// and providers as the Lambdas, using the same configuration.
//
// Examples:
//
//	photo-ai process --batch 10 --drain
//	photo-ai sweep --max-retries 3
//	photo-ai enqueue 3f9c... --user u-123
//	photo-ai jobs list --status failed
//	photo-ai jobs show aijob-1a2b...
//	photo-ai feed --user u-123 --mode on_this_day --limit 20
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/photo-intelligence/internal/config"
	"github.com/fpang/photo-intelligence/internal/lambdaboot"
	"github.com/fpang/photo-intelligence/internal/logging"
	"github.com/fpang/photo-intelligence/internal/store"
)

// Global flags
var (
	configFlag  string
	timeoutFlag time.Duration
)

// Wired in PersistentPreRun.
var (
	cfg     *config.Config
	clients lambdaboot.AWSClients
)

var rootCmd = &cobra.Command{
	Use:   "photo-ai",
	Short: "Operate the photo AI pipeline and Nostalgia Feed",
	Long: `photo-ai drives the photo intelligence backend from a terminal.

It can run worker batches and retry sweeps by hand, enqueue and inspect
AI jobs, and render a Nostalgia Feed page for any user. Configuration is
read the same way the Lambdas read it: defaults, then the YAML file named
by --config or PHOTO_AI_CONFIG, then environment variables.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "YAML config file (overrides PHOTO_AI_CONFIG)")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", 10*time.Minute, "Overall command timeout")
	rootCmd.AddCommand(processCmd, sweepCmd, enqueueCmd, jobsCmd, feedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setup(cmd *cobra.Command, _ []string) error {
	logging.Init()
	if configFlag != "" {
		loaded, err := config.LoadFile(configFlag)
		if err != nil {
			return err
		}
		logging.SetLevel(loaded.Logging.Level)
		cfg = loaded
	} else {
		cfg = lambdaboot.LoadConfig()
	}
	clients = lambdaboot.InitAWS(cmd.Context())
	log.Debug().Str("table", cfg.Dynamo.Table).Msg("photo-ai configured")
	return nil
}

// commandContext bounds a command by --timeout.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeoutFlag)
}

func jobStore() *store.DynamoStore {
	return lambdaboot.InitDynamo(clients.Config, cfg.Dynamo.Table)
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
