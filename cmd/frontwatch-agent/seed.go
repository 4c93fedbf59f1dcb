package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/spf13/cobra"

	"github.com/tinytelemetry/frontwatch/internal/intercept"
	"github.com/tinytelemetry/frontwatch/internal/model"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate realistic fake telemetry for development",
	Long: `Generate page views, clicks, errors, performance and custom events and
deliver them through the reporter. With --probe, each listed URL is also
fetched through the intercepting HTTP client so real request events are
recorded.`,
	Example: `  frontwatch-agent seed --count 500 --app shop
  frontwatch-agent seed --count 50 --probe https://example.com`,
	RunE: runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
	reporterFlags(seedCmd)
	seedCmd.Flags().IntP("count", "n", 100, "events to generate")
	seedCmd.Flags().Int64("seed", 0, "random seed (0 = time based)")
	seedCmd.Flags().Duration("spread", time.Hour, "spread event timestamps over this window before now")
	seedCmd.Flags().StringSlice("probe", nil, "URLs fetched through the intercepting client")
}

func runSeed(cmd *cobra.Command, _ []string) error {
	count := v.GetInt("count")
	if count <= 0 {
		return fmt.Errorf("--count must be positive")
	}
	seed := v.GetInt64("seed")
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	gofakeit.Seed(seed)

	appVersion := v.GetString("app-version")
	r, err := newReporter()
	if err != nil {
		return err
	}
	defer abandonReporter(r)
	defer intercept.Recover(r, appVersion)

	now := time.Now()
	spread := v.GetDuration("spread")
	for i := 0; i < count; i++ {
		e := fakeEvent(appVersion)
		if spread > 0 {
			offset := time.Duration(gofakeit.Float64Range(0, float64(spread)))
			e.Timestamp = now.Add(-offset).UnixMilli()
		}
		r.Enqueue(e)
	}

	if probes := v.GetStringSlice("probe"); len(probes) > 0 {
		client := intercept.NewClient(&http.Client{Timeout: v.GetDuration("timeout")}, r)
		var wg sync.WaitGroup
		for _, target := range probes {
			wg.Add(1)
			intercept.Go(r, appVersion, func() {
				defer wg.Done()
				resp, err := client.Get(target)
				if err != nil {
					intercept.CaptureError(r, appVersion, err, map[string]any{"url": target})
					return
				}
				resp.Body.Close()
			})
		}
		wg.Wait()
	}

	intercept.Track(r, "seed.completed", map[string]any{"count": count, "seed": seed})
	r.Flush()
	return closeReporter(cmd, r)
}

var seedPages = []string{"/", "/products", "/products/42", "/cart", "/checkout", "/account", "/search"}

// fakeEvent returns one random event shaped like a browser SDK report.
func fakeEvent(appVersion string) model.Event {
	page := "https://" + gofakeit.DomainName() + gofakeit.RandomString(seedPages)
	var e model.Event
	switch gofakeit.Number(0, 9) {
	case 0, 1, 2:
		e = model.NewEvent(model.KindPageView, map[string]any{
			"pageUrl":   page,
			"referrer":  "https://" + gofakeit.DomainName() + "/",
			"userAgent": gofakeit.UserAgent(),
		})
	case 3, 4:
		e = model.NewEvent(model.KindClick, map[string]any{
			"pageUrl": page,
			"target":  "#" + gofakeit.Word(),
			"x":       gofakeit.Number(0, 1920),
			"y":       gofakeit.Number(0, 1080),
		})
	case 5:
		e = model.NewEvent(model.KindPageStay, map[string]any{
			"pageUrl":  page,
			"duration": gofakeit.Number(500, 600000),
		})
	case 6:
		e = model.NewEvent(model.KindPerformance, map[string]any{
			"pageUrl": page,
			"fcp":     gofakeit.Number(100, 4000),
			"lcp":     gofakeit.Number(300, 8000),
			"ttfb":    gofakeit.Number(20, 1500),
		})
	case 7:
		e = model.NewEvent(model.KindJSError, map[string]any{
			"message": fakeErrorMessage(),
			"stack": fmt.Sprintf("TypeError: %s\n    at %s (%s/monitor-sdk.js:1:%d)",
				gofakeit.Word(), gofakeit.Word(), page, gofakeit.Number(1, 50000)),
			"pageUrl": page,
		})
	case 8:
		e = model.NewEvent(model.KindResourceError, map[string]any{
			"url":     page + "/static/" + gofakeit.Word() + ".js",
			"tagName": gofakeit.RandomString([]string{"SCRIPT", "LINK", "IMG"}),
		})
	default:
		e = model.NewEvent(model.KindCustom, map[string]any{
			"eventName": gofakeit.RandomString([]string{"signup", "add_to_cart", "purchase"}),
			"data":      map[string]any{"user": gofakeit.Username(), "id": gofakeit.UUID()},
		})
	}
	e.AppVersion = appVersion
	return e
}

func fakeErrorMessage() string {
	return gofakeit.RandomString([]string{
		"Cannot read properties of undefined (reading '" + gofakeit.Word() + "')",
		gofakeit.Word() + " is not a function",
		"Unexpected token '<'",
	})
}
