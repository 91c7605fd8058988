// Package cli provides output and console helpers for the dalil command.
package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/hyperjump/dalil/internal/chat"
	"github.com/hyperjump/dalil/internal/models"
	"github.com/hyperjump/dalil/internal/server"
	"github.com/hyperjump/dalil/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat validates a -output flag value.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(strings.TrimSpace(s))) {
	case OutputText, "":
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	}
	return "", fmt.Errorf("invalid output format %q (use text or json)", s)
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// WriteQueryResults writes retrieval results to w in the given format.
func WriteQueryResults(w io.Writer, response *models.QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, response)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms\n\n", response.Total, response.QueryTime)
	for i, result := range response.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Distance: %.4f\n", i+1, result.Distance)
		fmt.Fprintf(w, "ID: %s\n", result.ID)
		if src, ok := result.Metadata[models.MetaSource]; ok {
			fmt.Fprintf(w, "Source: %v\n", src)
		}
		fmt.Fprintf(w, "\n%s\n\n", utils.Truncate(result.Text, 200))
	}
	return nil
}

// WriteTurns writes a session's turns oldest-first.
func WriteTurns(w io.Writer, sessionID string, turns []models.Turn, format OutputFormat) error {
	if format == OutputJSON {
		if turns == nil {
			turns = []models.Turn{}
		}
		return writeJSON(w, map[string]interface{}{"session_id": sessionID, "messages": turns})
	}
	if len(turns) == 0 {
		fmt.Fprintf(w, "No messages for session %q\n", sessionID)
		return nil
	}
	for _, t := range turns {
		fmt.Fprintf(w, "[%s] %s: %s\n", t.CreatedAt.Local().Format("2006-01-02 15:04:05"), t.Role, t.Content)
	}
	return nil
}

// WriteStatus writes an index/turn-log summary.
func WriteStatus(w io.Writer, st *server.Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, st)
	}
	fmt.Fprintln(w, "Dalil Status")
	fmt.Fprintln(w, "============")
	fmt.Fprintf(w, "Documents:  %d\n", len(st.Documents))
	fmt.Fprintf(w, "Chunks:     %d\n", st.Chunks)
	fmt.Fprintf(w, "Turns:      %d\n", st.Turns)
	fmt.Fprintf(w, "Disk usage: %s\n", FormatBytes(st.DiskUsageBytes))
	for _, d := range st.Documents {
		fmt.Fprintf(w, "  - %s (%d chunks) %s\n", d.ID, d.ChunkCount, d.Source)
	}
	if len(st.Config) > 0 {
		fmt.Fprintln(w, "\nConfig:")
		keys := make([]string, 0, len(st.Config))
		for k := range st.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "  %s: %v\n", k, st.Config[k])
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// Console prompts.
const (
	ConsoleBanner  = "ابدأ الكتابة الآن (اكتب exit للخروج)"
	ConsolePrompt  = "أنت: "
	ConsoleGoodbye = "مع السلامة 👋"
)

// Chatter answers one turn for a session.
type Chatter interface {
	HandleTurn(ctx context.Context, sessionID, message string) (string, error)
}

// RunConsole reads lines from in and answers each through c until "exit" or EOF.
// Turn failures are logged and answered with the generic apology.
func RunConsole(ctx context.Context, in io.Reader, out io.Writer, c Chatter, sessionID string, logger *zap.Logger) error {
	fmt.Fprintf(out, "%s\n\n", ConsoleBanner)
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, ConsolePrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if strings.EqualFold(line, "exit") {
			fmt.Fprintf(out, "Bot: %s\n", ConsoleGoodbye)
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		reply, err := c.HandleTurn(ctx, sessionID, line)
		if err != nil {
			if logger != nil {
				logger.Error("turn failed", zap.String("session_id", sessionID), zap.Error(err))
			}
			reply = chat.ReplyUnavailable
		}
		fmt.Fprintf(out, "Bot: %s\n", reply)
	}
}
