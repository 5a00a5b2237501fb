package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/murmur/internal/instructions"
	"github.com/rbright/murmur/internal/session"
)

type fakeAPI struct {
	mu         sync.Mutex
	sttForm    map[string]string
	sttFile    string
	auth       string
	userAgent  string
	chat       chatRequest
	transcript string
	deltas     []string
	sttStatus  int
	chatCalls  int
}

func (f *fakeAPI) lock(t *testing.T) {
	f.mu.Lock()
	t.Cleanup(f.mu.Unlock)
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		raw, _ := io.ReadAll(file)

		f.mu.Lock()
		f.auth = r.Header.Get("Authorization")
		f.userAgent = r.Header.Get("User-Agent")
		f.sttFile = header.Filename + ":" + string(raw)
		f.sttForm = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			f.sttForm[k] = v[0]
		}
		status := f.sttStatus
		f.mu.Unlock()

		if status != 0 {
			http.Error(w, "quota exceeded", status)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"text": f.transcript})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		f.mu.Lock()
		f.chat = req
		f.chatCalls++
		f.mu.Unlock()

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		for _, d := range f.deltas {
			payload, _ := json.Marshal(map[string]any{
				"choices": []map[string]any{{"delta": map[string]string{"content": d}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})
	return mux
}

func writeArtifact(t *testing.T) session.Artifact {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capture.flac")
	require.NoError(t, os.WriteFile(path, []byte("fLaC-data"), 0o600))
	return session.Artifact{Path: path, Format: "flac", Bytes: 9}
}

func newPipeline(t *testing.T, api *fakeAPI, file instructions.File, keep bool) *Pipeline {
	t.Helper()
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return New(Config{
		BaseURL:   srv.URL + "/v1/",
		APIKey:    "sk-test",
		KeepAudio: keep,
		Timeout:   5 * time.Second,
	}, instructions.NewStore(file), nil)
}

func collect() (func(string), func() []string) {
	var mu sync.Mutex
	var chunks []string
	emit := func(c string) {
		mu.Lock()
		chunks = append(chunks, c)
		mu.Unlock()
	}
	snapshot := func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), chunks...)
	}
	return emit, snapshot
}

func TestTaskTranscribesWithSetParameters(t *testing.T) {
	api := &fakeAPI{transcript: "  hello kubernetes  "}
	file := instructions.File{Sets: []instructions.Set{{
		Name: "Notes",
		STT: instructions.STT{
			Model:        "whisper-large",
			Language:     "en",
			Vocabulary:   []string{"Kubernetes", "gRPC"},
			Instructions: []string{"Use British spelling."},
		},
	}}}
	p := newPipeline(t, api, file, false)
	artifact := writeArtifact(t)

	emit, chunks := collect()
	res, err := p.Task("Notes", artifact)(context.Background(), emit)
	require.NoError(t, err)
	require.Equal(t, "hello kubernetes", res.Transcript)
	require.Empty(t, res.Output)
	require.False(t, res.Refined)
	require.Equal(t, "hello kubernetes", res.Text())
	require.Equal(t, []string{"hello kubernetes"}, chunks())

	api.lock(t)
	require.Equal(t, "Bearer sk-test", api.auth)
	require.True(t, strings.HasPrefix(api.userAgent, "murmur/"))
	require.Equal(t, "audio.flac:fLaC-data", api.sttFile)
	require.Equal(t, "whisper-large", api.sttForm["model"])
	require.Equal(t, "en", api.sttForm["language"])
	require.Equal(t, "Vocabulary: Kubernetes, gRPC. Use British spelling.", api.sttForm["prompt"])
	require.Zero(t, api.chatCalls)

	_, err = os.Stat(artifact.Path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestTaskRefinesAndStreamsDeltas(t *testing.T) {
	api := &fakeAPI{transcript: "dear bob send the report", deltas: []string{"Dear Bob,", " please send", " the report."}}
	file := instructions.File{Sets: []instructions.Set{{
		Name: "Email",
		LLM: instructions.LLM{
			Enabled:       true,
			Instructions:  []string{"Rewrite as a polite email."},
			ClipboardText: true,
		},
	}}}
	p := newPipeline(t, api, file, true)
	p.readClipboard = func() (string, error) { return "previous thread", nil }
	artifact := writeArtifact(t)

	emit, chunks := collect()
	res, err := p.Task("Email", artifact)(context.Background(), emit)
	require.NoError(t, err)
	require.True(t, res.Refined)
	require.Equal(t, "dear bob send the report", res.Transcript)
	require.Equal(t, "Dear Bob, please send the report.", res.Output)
	require.Equal(t, res.Output, res.Text())
	require.Equal(t, api.deltas, chunks())

	api.lock(t)
	require.Equal(t, DefaultLLMModel, api.chat.Model)
	require.True(t, api.chat.Stream)
	require.Equal(t, []chatMessage{
		{Role: "system", Content: "Rewrite as a polite email."},
		{Role: "user", Content: "Context from the clipboard:\nprevious thread"},
		{Role: "user", Content: "dear bob send the report"},
	}, api.chat.Messages)

	_, err = os.Stat(artifact.Path)
	require.NoError(t, err, "keep_audio retains the artifact")
}

func TestTaskSkipsRefinementForEmptyTranscript(t *testing.T) {
	api := &fakeAPI{transcript: "   "}
	file := instructions.File{Sets: []instructions.Set{{Name: "A", LLM: instructions.LLM{Enabled: true}}}}
	p := newPipeline(t, api, file, false)

	res, err := p.Task("A", writeArtifact(t))(context.Background(), func(string) {})
	require.NoError(t, err)
	require.Empty(t, res.Text())
	api.lock(t)
	require.Zero(t, api.chatCalls)
}

func TestTaskClipboardFailureStillRefines(t *testing.T) {
	api := &fakeAPI{transcript: "x", deltas: []string{"X"}}
	file := instructions.File{Sets: []instructions.Set{{Name: "A", LLM: instructions.LLM{Enabled: true, ClipboardText: true}}}}
	p := newPipeline(t, api, file, false)
	p.readClipboard = func() (string, error) { return "", errors.New("no display") }

	res, err := p.Task("A", writeArtifact(t))(context.Background(), func(string) {})
	require.NoError(t, err)
	require.Equal(t, "X", res.Output)
	api.lock(t)
	require.Len(t, api.chat.Messages, 2)
	require.Equal(t, defaultRefinePrompt, api.chat.Messages[0].Content)
}

func TestTaskReportsHTTPFailure(t *testing.T) {
	api := &fakeAPI{sttStatus: http.StatusTooManyRequests}
	p := newPipeline(t, api, instructions.Default(), false)

	_, err := p.Task(instructions.DefaultSetName, writeArtifact(t))(context.Background(), func(string) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "HTTP 429")
	require.Contains(t, err.Error(), "quota exceeded")
}

func TestTaskHonorsCancellation(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(func() {
		close(release)
		srv.Close()
	})
	p := New(Config{BaseURL: srv.URL}, nil, nil)

	task := p.Task("", writeArtifact(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := task(ctx, func(string) {})
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("task did not observe cancellation")
	}
}

func TestTaskWithoutEndpoint(t *testing.T) {
	artifact := writeArtifact(t)
	p := New(Config{}, nil, nil)
	_, err := p.Task("", artifact)(context.Background(), func(string) {})
	require.ErrorIs(t, err, ErrNoEndpoint)

	_, statErr := os.Stat(artifact.Path)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestSTTPromptSkipsBlankLines(t *testing.T) {
	got := sttPrompt(instructions.STT{Instructions: []string{" ", "Spell out numbers."}})
	require.Equal(t, "Spell out numbers.", got)
	require.Empty(t, sttPrompt(instructions.STT{}))
	require.True(t, strings.HasPrefix(sttPrompt(instructions.STT{Vocabulary: []string{"a"}}), "Vocabulary"))
}
