package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinytelemetry/frontwatch/internal/ingest"
	"github.com/tinytelemetry/frontwatch/internal/model"
)

// fakeCollector records what the agent sends.
type fakeCollector struct {
	mu       sync.Mutex
	events   []model.Event
	apps     []string
	uploads  map[string]string
	restores []map[string]string
}

func newFakeCollector(t *testing.T) (*fakeCollector, *httptest.Server) {
	t.Helper()
	fc := &fakeCollector{uploads: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/report", func(w http.ResponseWriter, r *http.Request) {
		var body []byte
		if r.Method == http.MethodGet {
			body = []byte(r.URL.Query().Get("data"))
		} else {
			body, _ = io.ReadAll(r.Body)
		}
		events, err := ingest.DecodeBatch(body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		fc.mu.Lock()
		fc.events = append(fc.events, events...)
		fc.apps = append(fc.apps, r.URL.Query().Get("app"))
		fc.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/api/upload-sourcemap", func(w http.ResponseWriter, r *http.Request) {
		f, _, err := r.FormFile("sourcemap")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"code":-1,"message":"missing version or sourcemap file"}`))
			return
		}
		data, _ := io.ReadAll(f)
		fc.mu.Lock()
		fc.uploads[r.FormValue("version")] = string(data)
		fc.mu.Unlock()
		_, _ = w.Write([]byte(`{"code":0,"message":"sourcemap uploaded","data":{"file":"monitor-sdk-` +
			r.FormValue("version") + `.js.map","size":` + jsonInt(len(data)) + `}}`))
	})
	mux.HandleFunc("/api/restore-error", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		fc.mu.Lock()
		fc.restores = append(fc.restores, req)
		fc.mu.Unlock()
		if req["appVersion"] != "1.0.0" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":-1,"message":"no sourcemap for version ` + req["appVersion"] + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"code":0,"message":"restore succeeded","data":[
			{"functionName":"a","fileName":"http://x/monitor-sdk.js","lineNumber":1,"columnNumber":5,
			 "originalSource":"src/app.js","originalLine":2,"originalColumn":0,"originalFunctionName":"boot",
			 "sourceContent":"// app\nfunction boot() {}\n"},
			{"functionName":"b","fileName":"http://x/monitor-sdk.js","lineNumber":9,"columnNumber":1,
			 "originalSource":"unknown","originalLine":"unknown","originalColumn":"unknown",
			 "originalFunctionName":"unknown","sourceContent":"unknown"}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return fc, srv
}

func jsonInt(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}

func runAgent(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(append(args, "--config", filepath.Join(t.TempDir(), "none.yml")))
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSendDeliversEvent(t *testing.T) {
	fc, srv := newFakeCollector(t)

	out, err := runAgent(t, "", "send",
		"--server", srv.URL, "--app", "shop",
		"--json", `{"type":"click","target":"#buy"}`,
		"--cache", "memory")
	require.NoError(t, err)
	assert.Contains(t, out, "enqueued=1")

	fc.mu.Lock()
	defer fc.mu.Unlock()
	require.Len(t, fc.events, 1)
	assert.Equal(t, model.KindClick, fc.events[0].Type)
	assert.Equal(t, "#buy", fc.events[0].String("target"))
	assert.Equal(t, []string{"shop"}, fc.apps)
}

func TestSendRequiresInput(t *testing.T) {
	_, srv := newFakeCollector(t)
	_, err := runAgent(t, "", "send", "--server", srv.URL, "--type", "", "--json", "", "--cache", "memory")
	require.Error(t, err)
}

func TestUploadSourcemap(t *testing.T) {
	fc, srv := newFakeCollector(t)
	path := filepath.Join(t.TempDir(), "monitor-sdk.js.map")
	require.NoError(t, os.WriteFile(path, []byte(`{"version":3}`), 0o644))

	out, err := runAgent(t, "", "upload", "--server", srv.URL, "--app-version", "2.1.0", path)
	require.NoError(t, err)
	assert.Contains(t, out, "monitor-sdk-2.1.0.js.map")
	assert.Equal(t, `{"version":3}`, fc.uploads["2.1.0"])
}

func TestUploadRequiresVersion(t *testing.T) {
	_, srv := newFakeCollector(t)
	_, err := runAgent(t, "", "upload", "--server", srv.URL, "--app-version", "", "x.map")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--app-version")
}

func TestRestorePrintsFrames(t *testing.T) {
	fc, srv := newFakeCollector(t)
	stack := "TypeError: boom\n    at a (http://x/monitor-sdk.js:1:5)"

	out, err := runAgent(t, stack, "restore", "--server", srv.URL, "--app-version", "1.0.0", "--json=false")
	require.NoError(t, err)
	assert.Contains(t, out, "src/app.js:2:0")
	assert.Contains(t, out, "function boot() {}")
	assert.Contains(t, out, "no mapping")
	require.Len(t, fc.restores, 1)
	assert.Equal(t, stack, fc.restores[0]["stack"])
}

func TestRestoreJSON(t *testing.T) {
	_, srv := newFakeCollector(t)
	out, err := runAgent(t, "at a (http://x/monitor-sdk.js:1:5)", "restore", "--server", srv.URL, "--app-version", "1.0.0", "--json")
	require.NoError(t, err)

	var frames []model.RestoredFrame
	require.NoError(t, json.Unmarshal([]byte(out), &frames))
	require.Len(t, frames, 2)
	assert.True(t, frames[0].Resolved)
	assert.False(t, frames[1].Resolved)
}

func TestRestoreUnknownVersion(t *testing.T) {
	_, srv := newFakeCollector(t)
	_, err := runAgent(t, "at a (x.js:1:1)", "restore", "--server", srv.URL, "--app-version", "9.9.9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestSeedGeneratesEvents(t *testing.T) {
	fc, srv := newFakeCollector(t)

	_, err := runAgent(t, "", "seed", "--server", srv.URL, "--count", "25", "--seed", "7",
		"--batch-size", "10", "--cache", "memory", "--app-version", "3.0.0")
	require.NoError(t, err)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	// 25 generated plus the completion marker.
	require.Len(t, fc.events, 26)
	for _, e := range fc.events {
		assert.NotEmpty(t, e.Type)
	}
}

func TestSeedReportsFetchedURLs(t *testing.T) {
	fc, srv := newFakeCollector(t)

	_, err := runAgent(t, "", "seed", "--server", srv.URL, "--count", "1", "--seed", "7",
		"--cache", "memory", "--probe", srv.URL+"/missing", "--probe", "http://127.0.0.1:1/down")
	require.NoError(t, err)

	fc.mu.Lock()
	defer fc.mu.Unlock()
	// One generated, two request outcomes, one captured error, the completion marker.
	require.Len(t, fc.events, 5)
	kinds := map[string]int{}
	for _, e := range fc.events {
		kinds[e.Type]++
	}
	assert.Equal(t, 1, kinds[model.KindRequest])
	assert.Equal(t, 1, kinds[model.KindRequestError])
	assert.GreaterOrEqual(t, kinds[model.KindJSError], 1)
}

func TestSourceWindow(t *testing.T) {
	src := "one\ntwo\nthree\nfour\nfive"
	w := sourceWindow(src, 3, 1)
	assert.Contains(t, w, "two")
	assert.Contains(t, w, "three")
	assert.Contains(t, w, "four")
	assert.NotContains(t, w, "one")
	assert.NotContains(t, w, "five")

	assert.Empty(t, sourceWindow(model.PlaceholderUnknown, 1, 3))
	assert.Empty(t, sourceWindow(src, 99, 3))
}

func TestReportEndpointCarriesApp(t *testing.T) {
	v.Set("server", "http://collector:3002/")
	v.Set("app", "shop admin")
	t.Cleanup(func() {
		v.Set("server", nil)
		v.Set("app", nil)
	})

	got, err := reportEndpoint()
	require.NoError(t, err)
	assert.Equal(t, "http://collector:3002/api/report?app=shop+admin", got)

	v.Set("server", "not a url")
	_, err = reportEndpoint()
	require.Error(t, err)
}
