// =============================================================================
// PRODUCE COMMAND - PUBLISH MESSAGES
// =============================================================================
//
// WHAT IS THIS?
// Command for publishing messages to a topic through a pkg/producer.Producer:
// dials the broker, registers a producer, sends (synchronously waiting on
// the ack callback for each message), and closes cleanly.
//
// USAGE:
//   goqueue produce <topic> [flags]
//
// FLAGS:
//   -m, --message      Message value (required unless using --file)
//   -k, --key          Message key (for partitioning)
//   -f, --file         Read messages from file (one per line)
//   --replicated       Mark the message(s) as replication copies, exempt
//                       from the reuse check
//
// EXAMPLES:
//   goqueue produce orders -m "hello world"
//   goqueue produce orders -m "hello" -k "user-123"
//   goqueue produce orders -f messages.txt
//
// =============================================================================

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"goqueue/pkg/producer"
)

var (
	produceMessage    string
	produceKey        string
	produceFile       string
	produceReplicated bool
)

var produceCmd = &cobra.Command{
	Use:   "produce <topic>",
	Short: "Publish messages to a topic",
	Long: `Publish messages to a goqueue topic through a pkg/producer.Producer.

Arguments:
  topic    The name of the topic to publish to

Messages can be provided via:
  - --message flag (single message)
  - --file flag (multiple messages, one per line)

Examples:
  goqueue produce orders -m "order placed"
  goqueue produce orders -m "data" -k "user-123"
  goqueue produce orders -f messages.txt`,
	Args: cobra.ExactArgs(1),
	RunE: runProduce,
}

func init() {
	produceCmd.Flags().StringVarP(&produceMessage, "message", "m", "",
		"Message value to publish")
	produceCmd.Flags().StringVarP(&produceKey, "key", "k", "",
		"Message key (determines partition-internal ordering)")
	produceCmd.Flags().StringVarP(&produceFile, "file", "f", "",
		"File containing messages, one per line")
	produceCmd.Flags().BoolVar(&produceReplicated, "replicated", false,
		"Mark message(s) as replication copies (exempt from the reuse check)")
}

func runProduce(cmd *cobra.Command, args []string) error {
	topic := args[0]

	var lines []string
	if produceFile != "" {
		fileLines, err := readLinesFromFile(produceFile)
		if err != nil {
			printError("%v", err)
			return err
		}
		lines = fileLines
	} else if produceMessage != "" {
		lines = []string{produceMessage}
	} else {
		printError("either --message or --file is required")
		return cmd.Usage()
	}

	ctx, cancel := getContext()
	defer cancel()

	p, teardown, err := dialProducer(ctx, topic)
	if err != nil {
		printError("%v", err)
		return err
	}
	defer teardown()

	for _, line := range lines {
		if err := sendOne(p, line); err != nil {
			printError("publish to %s: %v", topic, err)
			return err
		}
	}
	return nil
}

// sendOne calls SendAsync and blocks on its ack callback, so the CLI's
// synchronous request/response feel matches a single publish operation.
func sendOne(p *producer.Producer, value string) error {
	done := make(chan error, 1)
	msg := &producer.Message{
		Payload:    []byte(value),
		Key:        produceKey,
		Replicated: produceReplicated,
	}
	p.SendAsync(nil, msg, func(idx int, id producer.MessageID, err error) {
		done <- err
	})

	select {
	case err := <-done:
		if err != nil {
			return err
		}
		printSuccess("published via producer %q", p.GetProducerName())
		return nil
	case <-time.After(30 * time.Second):
		return fmt.Errorf("timed out waiting for ack")
	}
}

// readLinesFromFile reads non-empty, non-comment lines from a plain text
// file, one message per line.
func readLinesFromFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
