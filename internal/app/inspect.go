package app

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/history"
	"github.com/rbright/murmur/internal/instructions"
	"github.com/rbright/murmur/internal/ipc"
)

const previewRunes = 60

// commandKeys prints the daemon's live bindings, or the bindings the
// instruction file would produce when no daemon is running.
func (r Runner) commandKeys(ctx context.Context, cfg config.Loaded) int {
	var bindings []ipc.Binding
	source := "daemon"

	socketPath, err := ipc.RuntimeSocketPath()
	handled := false
	if err == nil {
		var resp ipc.Response
		resp, handled, err = tryForward(ctx, socketPath, ipc.Request{Command: "bindings"})
		if handled && err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		bindings = resp.Bindings
	}

	if !handled {
		path := cfg.InstructionsPath()
		file, err := instructions.Load(path)
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		parsed, err := file.Bindings()
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		for _, b := range parsed {
			bindings = append(bindings, ipc.Binding{Hotkey: b.Hotkey.String(), Owner: b.Owner})
		}
		source = path
	}

	if len(bindings) == 0 {
		fmt.Fprintf(r.Stdout, "no hotkeys bound (%s)\n", source)
		return 0
	}
	tw := tabwriter.NewWriter(r.Stdout, 0, 4, 2, ' ', 0)
	for _, b := range bindings {
		fmt.Fprintf(tw, "%s\t%s\n", b.Hotkey, b.Owner)
	}
	_ = tw.Flush()
	return 0
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Loaded, limit int) int {
	if !cfg.Config.History.Enable {
		fmt.Fprintln(r.Stderr, "error: history is disabled (history.enable=false)")
		return 1
	}
	path, err := cfg.HistoryPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Recent(ctx, limit)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no sessions recorded")
		return 0
	}

	tw := tabwriter.NewWriter(r.Stdout, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		detail := e.Output
		if detail == "" {
			detail = e.Transcript
		}
		if e.Status == history.StatusFailed {
			detail = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			e.CreatedAt.Local().Format(time.DateTime),
			e.Status,
			e.Set,
			dash(e.Hotkey),
			e.Duration.Round(10*time.Millisecond),
			preview(detail),
		)
	}
	_ = tw.Flush()
	return 0
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= previewRunes {
		return s
	}
	return string(runes[:previewRunes-1]) + "…"
}
