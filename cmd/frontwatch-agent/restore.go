package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/tinytelemetry/frontwatch/internal/model"
)

var restoreCmd = &cobra.Command{
	Use:   "restore [stack-file]",
	Short: "Restore a minified stack trace against an uploaded source map",
	Long: `Send a stack trace to the collector and print each frame with its
original position and source. The stack is read from the given file, or
from stdin when no file is given.`,
	Example: `  frontwatch-agent restore --app-version 1.4.0 crash.txt
  pbpaste | frontwatch-agent restore --app-version 1.4.0 --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
	restoreCmd.Flags().Bool("json", false, "print raw JSON frames")
	restoreCmd.Flags().Int("context", 3, "source lines shown around each resolved line")
}

func runRestore(cmd *cobra.Command, args []string) error {
	appVersion := v.GetString("app-version")
	if appVersion == "" {
		return fmt.Errorf("--app-version is required")
	}
	var in io.Reader = cmd.InOrStdin()
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	stack, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	if strings.TrimSpace(string(stack)) == "" {
		return fmt.Errorf("empty stack")
	}

	target, err := apiURL("/api/restore-error")
	if err != nil {
		return err
	}
	payload, _ := json.Marshal(map[string]string{"stack": string(stack), "appVersion": appVersion})
	req, err := http.NewRequest(http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := doAPI(cmd.Context(), req)
	if err != nil {
		return err
	}

	var frames []model.RestoredFrame
	if err := json.Unmarshal(resp.Data, &frames); err != nil {
		return fmt.Errorf("decode frames: %w", err)
	}
	if v.GetBool("json") {
		return printJSON(cmd, frames)
	}
	fmt.Fprint(cmd.OutOrStdout(), renderFrames(frames, v.GetInt("context")))
	return nil
}

var (
	frameTitle  = lipgloss.NewStyle().Bold(true)
	frameDim    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	frameOK     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	frameMiss   = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	frameHilite = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	frameBox    = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// renderFrames formats restored frames for a terminal. Resolved frames
// show a window of context lines around the original line.
func renderFrames(frames []model.RestoredFrame, context int) string {
	var b strings.Builder
	for i, f := range frames {
		name := f.FunctionName
		if name == "" {
			name = "<anonymous>"
		}
		generated := frameDim.Render(fmt.Sprintf("%s:%d:%d", f.FileName, f.LineNumber, f.ColumnNumber))
		if !f.Resolved {
			fmt.Fprintf(&b, "%s %s %s\n", frameMiss.Render("○"), frameTitle.Render(fmt.Sprintf("#%d %s", i, name)), generated)
			fmt.Fprintf(&b, "    %s\n\n", frameDim.Render("no mapping"))
			continue
		}
		orig := fmt.Sprintf("%s:%d:%d", f.OriginalSource, f.OriginalLine, f.OriginalColumn)
		fmt.Fprintf(&b, "%s %s %s\n", frameOK.Render("●"), frameTitle.Render(fmt.Sprintf("#%d %s", i, f.OriginalFunctionName)), frameHilite.Render(orig))
		fmt.Fprintf(&b, "    %s %s\n", frameDim.Render("from"), generated)
		if snippet := sourceWindow(f.SourceContent, f.OriginalLine, context); snippet != "" {
			b.WriteString(frameBox.Render(snippet))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// sourceWindow returns the lines around line (1-based), marking line itself.
func sourceWindow(src string, line, context int) string {
	if src == "" || src == model.PlaceholderUnknown || line < 1 {
		return ""
	}
	lines := strings.Split(src, "\n")
	if line > len(lines) {
		return ""
	}
	from := max(1, line-context)
	to := min(len(lines), line+context)
	out := make([]string, 0, to-from+1)
	for n := from; n <= to; n++ {
		text := fmt.Sprintf("%4d  %s", n, lines[n-1])
		if n == line {
			text = frameHilite.Render(fmt.Sprintf("%4d> %s", n, lines[n-1]))
		} else {
			text = frameDim.Render(text)
		}
		out = append(out, text)
	}
	return strings.Join(out, "\n")
}
