// =============================================================================
// ROOT COMMAND - CLI ENTRY POINT AND GLOBAL FLAGS
// =============================================================================
//
// WHAT IS THIS?
// The root command that initializes the CLI and defines global flags.
// All subcommands inherit these flags and share the producer connection.
//
// GLOBAL FLAGS:
//   --address, -a   Broker address (default: localhost:9000)
//   --timeout       Per-RPC timeout in seconds (default: 30)
//
// SUBCOMMANDS:
//   produce     Publish messages through a pkg/producer.Producer
//   version     Show version information
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"goqueue/internal/connio"
	"goqueue/pkg/producer"
)

const cliVersion = "v0.2.0"

var (
	// Global flags
	addressFlag string
	timeoutFlag int

	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "goqueue",
	Short: "Command-line producer client for a goqueue broker",
	Long: `goqueue CLI - Drive a pkg/producer.Producer from the command line.

Use "goqueue [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&addressFlag, "address", "a", "localhost:9000",
		"Broker address (env: GOQUEUE_ADDRESS)")
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", 30,
		"Per-RPC timeout in seconds")

	rootCmd.AddCommand(produceCmd)
	rootCmd.AddCommand(versionCmd)

	logger = slog.Default()
}

// resolveAddress applies the GOQUEUE_ADDRESS environment override when the
// flag was left at its default.
func resolveAddress() string {
	if env := os.Getenv("GOQUEUE_ADDRESS"); env != "" && !rootCmd.PersistentFlags().Changed("address") {
		return env
	}
	return addressFlag
}

// dialProducer opens a gRPC connection to the broker and registers a
// Producer on topic, ready to SendAsync. Callers must call the returned
// teardown func when done; it closes the producer and the connection.
func dialProducer(ctx context.Context, topic string) (*producer.Producer, func(), error) {
	cfg := connio.DefaultGRPCConfig(resolveAddress())
	cfg.Logger = logger
	cfg.DialTimeout = time.Duration(timeoutFlag) * time.Second

	conn, err := connio.NewGRPCConnection(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", cfg.Address, err)
	}

	opts := producer.DefaultOptions(topic)
	opts.OperationTimeout = time.Duration(timeoutFlag) * time.Second
	p := producer.NewProducer(topic, 0, opts, producer.ClientContext{}, logger)

	if err := p.Start(ctx, conn); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("register producer on %s: %w", topic, err)
	}

	teardown := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = p.CloseAsync(closeCtx)
		_ = conn.Close()
	}
	return p, teardown, nil
}

// getContext returns a context with the configured per-RPC timeout.
func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
}

func printSuccess(format string, args ...interface{}) {
	fmt.Printf(format+"\n", args...)
}
