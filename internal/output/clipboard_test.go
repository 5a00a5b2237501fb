package output

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/session"
)

func TestRunCommandWithInputWritesStdin(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	outputPath := filepath.Join(t.TempDir(), "stdin.txt")

	err := runCommandWithInput(context.Background(), []string{scriptPath, outputPath}, "hello from murmur")
	require.NoError(t, err)

	data, err := os.ReadFile(outputPath)
	require.NoError(t, err)
	require.Equal(t, "hello from murmur", string(data))
}

func TestRunCommandWithInputRejectsEmptyArgv(t *testing.T) {
	err := runCommandWithInput(context.Background(), nil, "payload")
	require.Error(t, err)
	require.Contains(t, err.Error(), "argv cannot be empty")
}

func TestCommitterCommitWritesClipboardCommand(t *testing.T) {
	scriptPath := writeStdinCaptureScript(t)
	clipboardPath := filepath.Join(t.TempDir(), "clipboard.txt")

	committer := NewCommitter(config.OutputConfig{
		Clipboard: config.CommandConfig{Argv: []string{scriptPath, clipboardPath}},
	}, nil)
	committer.writeClipboard = func(string) error {
		t.Fatal("library clipboard used while clipboard_cmd is set")
		return nil
	}
	require.NoError(t, committer.Commit(context.Background(), "captured transcript"))

	data, err := os.ReadFile(clipboardPath)
	require.NoError(t, err)
	require.Equal(t, "captured transcript", string(data))
}

func TestCommitterCommitFallsBackToLibraryClipboard(t *testing.T) {
	var got string
	committer := NewCommitter(config.OutputConfig{}, nil)
	committer.writeClipboard = func(text string) error {
		got = text
		return nil
	}
	require.NoError(t, committer.Commit(context.Background(), "library path"))
	require.Equal(t, "library path", got)
}

func TestCommitterCommitSkipsEmptyText(t *testing.T) {
	committer := NewCommitter(config.OutputConfig{}, nil)
	committer.writeClipboard = func(string) error {
		t.Fatal("clipboard written for empty text")
		return nil
	}
	require.NoError(t, committer.Commit(context.Background(), ""))
}

func TestCommitterCommitReturnsErrorWhenClipboardFails(t *testing.T) {
	failScript := writeFailScript(t, "clipboard failed")

	committer := NewCommitter(config.OutputConfig{
		Clipboard: config.CommandConfig{Argv: []string{failScript}},
	}, nil)
	err := committer.Commit(context.Background(), "captured transcript")
	require.Error(t, err)
	require.Contains(t, err.Error(), "set clipboard")

	committer = NewCommitter(config.OutputConfig{}, nil)
	committer.writeClipboard = func(string) error { return errors.New("no selection owner") }
	err = committer.Commit(context.Background(), "captured transcript")
	require.ErrorContains(t, err, "no selection owner")
}

func TestCommitterPasteRunsAfterClipboard(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "pasted")
	pasteScript := filepath.Join(dir, "paste.sh")
	require.NoError(t, os.WriteFile(pasteScript, []byte("#!/usr/bin/env bash\ntouch \"$1\"\n"), 0o755))

	committer := NewCommitter(config.OutputConfig{
		Paste:      config.CommandConfig{Argv: []string{pasteScript, marker}},
		PasteDelay: 5 * time.Millisecond,
	}, nil)
	committer.writeClipboard = func(string) error { return nil }
	require.NoError(t, committer.Commit(context.Background(), "text"))

	_, err := os.Stat(marker)
	require.NoError(t, err)
}

func TestCommitterPasteFailureDoesNotFailCommit(t *testing.T) {
	clipboardScript := writeStdinCaptureScript(t)
	clipboardPath := filepath.Join(t.TempDir(), "clipboard.txt")
	pasteFailScript := writeFailScript(t, "paste failed")

	committer := NewCommitter(config.OutputConfig{
		Clipboard: config.CommandConfig{Argv: []string{clipboardScript, clipboardPath}},
		Paste:     config.CommandConfig{Argv: []string{pasteFailScript}},
	}, nil)
	require.NoError(t, committer.Commit(context.Background(), "captured transcript"))

	data, readErr := os.ReadFile(clipboardPath)
	require.NoError(t, readErr)
	require.Equal(t, "captured transcript", string(data))
}

func TestPasteHonorsContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := paste(ctx, []string{"true"}, time.Second)
	require.ErrorIs(t, err, context.Canceled)
}

func TestCommitterSubscriberCommitsSuccessfulResults(t *testing.T) {
	var mu sync.Mutex
	var got []string
	committer := NewCommitter(config.OutputConfig{}, nil)
	committer.writeClipboard = func(text string) error {
		mu.Lock()
		got = append(got, text)
		mu.Unlock()
		return nil
	}

	var sub session.Subscriber = committer
	sub.OnComplete(session.Result{Transcript: "before start"})

	committer.Start()
	sub.OnComplete(session.Result{Transcript: "raw", Output: "refined"})
	sub.OnComplete(session.Result{Transcript: "failed", Err: errors.New("boom")})
	sub.OnComplete(session.Result{})
	sub.OnComplete(session.Result{Transcript: "second"})
	committer.Close()
	committer.Close()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"refined", "second"}, got)
}

func writeStdinCaptureScript(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "capture-stdin.sh")
	script := `#!/usr/bin/env bash
set -euo pipefail
cat > "$1"
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func writeFailScript(t *testing.T, message string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "fail.sh")
	script := "#!/usr/bin/env bash\nset -euo pipefail\necho " + "\"" + message + "\"" + " >&2\nexit 1\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}
