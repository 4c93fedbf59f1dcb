package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:     "upload <file.js.map>",
	Short:   "Upload a source map for an app version",
	Example: `  frontwatch-agent upload --app-version 1.4.0 dist/monitor-sdk.js.map`,
	Args:    cobra.ExactArgs(1),
	RunE:    runUpload,
}

var listCmd = &cobra.Command{
	Use:   "sourcemaps",
	Short: "List source maps stored on the collector",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func init() {
	rootCmd.AddCommand(uploadCmd, listCmd)
	listCmd.Flags().Bool("json", false, "print raw JSON")
}

// apiResponse is the collector's response envelope.
type apiResponse struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (r apiResponse) err(status int) error {
	if r.Error != "" {
		return fmt.Errorf("collector: %s (%d): %s", r.Message, status, r.Error)
	}
	return fmt.Errorf("collector: %s (%d)", r.Message, status)
}

func doAPI(ctx context.Context, req *http.Request) (apiResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, v.GetDuration("timeout"))
	defer cancel()
	resp, err := http.DefaultClient.Do(req.WithContext(ctx))
	if err != nil {
		return apiResponse{}, err
	}
	defer resp.Body.Close()

	var out apiResponse
	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return apiResponse{}, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return apiResponse{}, fmt.Errorf("collector returned %d with unreadable body: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || out.Code != 0 {
		return out, out.err(resp.StatusCode)
	}
	return out, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	appVersion := v.GetString("app-version")
	if appVersion == "" {
		return fmt.Errorf("--app-version is required")
	}
	target, err := apiURL("/api/upload-sourcemap")
	if err != nil {
		return err
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("version", appVersion); err != nil {
		return err
	}
	part, err := mw.CreateFormFile("sourcemap", filepath.Base(args[0]))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, f); err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	if err := mw.Close(); err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, target, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := doAPI(cmd.Context(), req)
	if err != nil {
		return err
	}

	var info struct {
		File string `json:"file"`
		Size int64  `json:"size"`
	}
	_ = json.Unmarshal(resp.Data, &info)
	fmt.Fprintf(cmd.OutOrStdout(), "uploaded %s as %s (%d bytes)\n", args[0], info.File, info.Size)
	return nil
}

func runList(cmd *cobra.Command, _ []string) error {
	target, err := apiURL("/api/sourcemaps")
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := doAPI(cmd.Context(), req)
	if err != nil {
		return err
	}

	var infos []struct {
		Version  string `json:"version"`
		File     string `json:"file"`
		Size     int64  `json:"size"`
		Modified string `json:"modified"`
	}
	if err := json.Unmarshal(resp.Data, &infos); err != nil {
		return fmt.Errorf("decode sourcemap list: %w", err)
	}
	if v.GetBool("json") {
		return printJSON(cmd, infos)
	}
	for _, i := range infos {
		fmt.Fprintf(cmd.OutOrStdout(), "%-20s %-40s %10d  %s\n", i.Version, i.File, i.Size, i.Modified)
	}
	return nil
}
