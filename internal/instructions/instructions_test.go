package instructions

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rbright/murmur/internal/hotkey"
	"github.com/stretchr/testify/require"
)

const sample = `
active: Notes
sets:
  - name: Notes
    hotkey: Alt+Ctrl+1
    stt:
      model: whisper-1
      language: en
      vocabulary: [Kubernetes, gRPC]
  - name: Email
    hotkey: ctrl+alt+2
    llm:
      enabled: true
      model: gpt-4o-mini
      instructions: ["Rewrite as a polite email."]
      clipboard_text: true
  - name: Plain
`

func TestParseAndBindings(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.Len(t, f.Sets, 3)
	require.Equal(t, "Notes", f.ActiveName())

	bindings, err := f.Bindings()
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	require.Equal(t, "ctrl+alt+1", bindings[0].Hotkey.String())
	require.Equal(t, "Notes", bindings[0].Owner)
	require.Equal(t, "Email", bindings[1].Owner)

	email, ok := f.Lookup("Email")
	require.True(t, ok)
	require.True(t, email.LLM.Enabled)
	require.True(t, email.LLM.ClipboardText)
}

func TestParseRejectsInvalidDocuments(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"unknown field", "sets:\n  - name: A\n    colour: red\n", "colour"},
		{"missing name", "sets:\n  - hotkey: ctrl+1\n", "name is required"},
		{"duplicate name", "sets:\n  - name: A\n  - name: A\n", "duplicate name"},
		{"bad hotkey", "sets:\n  - name: A\n    hotkey: ctrl\n", "modifiers need a base key"},
		{"unknown active", "active: Z\nsets:\n  - name: A\n", "not defined"},
		{"no sets", "sets: []\n", "at least one"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.raw))
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.want)
		})
	}
}

func TestParseRejectsHotkeyConflict(t *testing.T) {
	_, err := Parse([]byte("sets:\n  - name: A\n    hotkey: ctrl+alt+r\n  - name: B\n    hotkey: alt+ctrl+r\n"))
	require.ErrorIs(t, err, hotkey.ErrConflict)
}

func TestParseEmptyDocumentIsDefault(t *testing.T) {
	f, err := Parse(nil)
	require.NoError(t, err)
	require.Equal(t, Default(), f)
}

func TestLoadMissingFileIsDefault(t *testing.T) {
	f, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultSetName, f.ActiveName())
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "instructions.yaml")
	f, err := Parse([]byte(sample))
	require.NoError(t, err)

	require.NoError(t, Save(path, f))
	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, f, loaded)
}

func TestSaveRejectsInvalid(t *testing.T) {
	err := Save(filepath.Join(t.TempDir(), "x.yaml"), File{})
	require.Error(t, err)
}

func TestStoreGetFallsBack(t *testing.T) {
	f, err := Parse([]byte(sample))
	require.NoError(t, err)
	store := NewStore(f)

	require.Equal(t, "Email", store.Get("Email").Name)
	require.Equal(t, "Notes", store.Get("Unknown").Name)

	store.Replace(File{Sets: []Set{{Name: "Only"}}})
	require.Equal(t, "Only", store.Get("").Name)
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "instructions.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sets:\n  - name: A\n"), 0o600))

	changes := make(chan File, 4)
	errs := make(chan error, 4)
	w, err := Watch(path, 20*time.Millisecond, nil, func(f File, err error) {
		if err != nil {
			errs <- err
			return
		}
		changes <- f
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	// unrelated files in the directory are ignored
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))
	require.NoError(t, Save(path, File{Sets: []Set{{Name: "B", Hotkey: "ctrl+alt+b"}}}))

	select {
	case f := <-changes:
		require.Equal(t, "B", f.Sets[0].Name)
	case err := <-errs:
		t.Fatalf("unexpected reload error: %v", err)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report change")
	}

	require.NoError(t, os.WriteFile(path, []byte("sets:\n  - name: C\n    hotkey: ctrl\n"), 0o600))
	select {
	case err := <-errs:
		require.ErrorIs(t, err, hotkey.ErrParse)
	case <-time.After(3 * time.Second):
		t.Fatal("watcher did not report invalid file")
	}

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
