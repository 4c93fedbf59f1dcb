package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/frontwatch/internal/eventsource"
	"github.com/tinytelemetry/frontwatch/internal/intercept"
	"github.com/tinytelemetry/frontwatch/internal/model"
)

var pipeCmd = &cobra.Command{
	Use:   "pipe [file...]",
	Short: "Stream JSON events from files or stdin to the collector",
	Long: `Read events from the given files, or from stdin when it is piped, and
deliver them through the batching reporter. Input is JSON: one event or
an array of events per value, values may span lines. Undelivered events
are kept in the durable cache and sent on the next run.`,
	Example: `  tail -f events.jsonl | frontwatch-agent pipe
  frontwatch-agent pipe --app shop a.jsonl b.jsonl`,
	RunE: runPipe,
}

func init() {
	rootCmd.AddCommand(pipeCmd)
	reporterFlags(pipeCmd)
	pipeCmd.Flags().Int("buffer", eventsource.DefaultBuffer, "line buffer per source")
}

func runPipe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srcCfg := eventsource.Config{BufferSize: v.GetInt("buffer"), Logger: logger}
	var sources []eventsource.Source
	for _, path := range args {
		src, err := eventsource.NewFileSource(ctx, path, srcCfg)
		if err != nil {
			for _, s := range sources {
				s.Stop()
			}
			return err
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		if !eventsource.StdinPiped() {
			return fmt.Errorf("no input: pass files or pipe events on stdin")
		}
		sources = append(sources, eventsource.NewStdinSource(ctx, srcCfg))
	}

	r, err := newReporter()
	if err != nil {
		return err
	}
	defer abandonReporter(r)
	defer intercept.Recover(r, v.GetString("app-version"))

	mux := eventsource.NewMultiplexer(ctx, sources, v.GetInt("buffer"))
	mux.Start()

	var skipped int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		skipped = eventsource.Decode(gctx, mux.Lines(), logger, func(e model.Event) {
			r.Enqueue(e)
		})
		return nil
	})
	werr := g.Wait()
	mux.Stop()

	if skipped > 0 {
		logger.Warn("skipped malformed input", "values", skipped)
	}
	if err := closeReporter(cmd, r); err != nil {
		return err
	}
	return werr
}
