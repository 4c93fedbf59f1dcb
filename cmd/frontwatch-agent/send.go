package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinytelemetry/frontwatch/internal/ingest"
	"github.com/tinytelemetry/frontwatch/internal/model"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send a single event",
	Long:  "Build one event from flags or raw JSON and deliver it through the reporter.",
	Example: `  frontwatch-agent send --type jsError --message "TypeError: x is undefined"
  frontwatch-agent send --json '{"type":"click","target":"#buy"}'`,
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	reporterFlags(sendCmd)
	sendCmd.Flags().String("type", model.KindCustom, "event type")
	sendCmd.Flags().StringP("message", "m", "", "event message")
	sendCmd.Flags().String("json", "", "raw JSON event or array of events")
}

func runSend(cmd *cobra.Command, _ []string) error {
	events, err := eventsFromFlags()
	if err != nil {
		return err
	}
	r, err := newReporter()
	if err != nil {
		return err
	}
	for _, e := range events {
		r.Enqueue(e)
	}
	r.Flush()
	return closeReporter(cmd, r)
}

func eventsFromFlags() ([]model.Event, error) {
	if raw := v.GetString("json"); raw != "" {
		events, err := ingest.DecodeBatch([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("--json: %w", err)
		}
		return events, nil
	}
	typ := v.GetString("type")
	if typ == "" {
		return nil, fmt.Errorf("either --type or --json is required")
	}
	fields := map[string]any{}
	if msg := v.GetString("message"); msg != "" {
		fields["message"] = msg
	}
	return []model.Event{model.NewEvent(typ, fields)}, nil
}

// printJSON writes value indented to the command output.
func printJSON(cmd *cobra.Command, value any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
