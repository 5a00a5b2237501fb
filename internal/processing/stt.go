package processing

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
	"strings"

	"github.com/rbright/murmur/internal/instructions"
	"github.com/rbright/murmur/internal/session"
)

type transcriptionResponse struct {
	Text string `json:"text"`
}

func (p *Pipeline) transcribe(ctx context.Context, stt instructions.STT, artifact session.Artifact) (string, error) {
	audio, err := os.ReadFile(artifact.Path)
	if err != nil {
		return "", fmt.Errorf("read audio artifact: %w", err)
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	format := artifact.Format
	if format == "" {
		format = strings.TrimPrefix(filepath.Ext(artifact.Path), ".")
	}
	part, err := w.CreateFormFile("file", "audio."+format)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}

	model := stt.Model
	if model == "" {
		model = p.cfg.STTModel
	}
	fields := [][2]string{
		{"model", model},
		{"response_format", "json"},
	}
	if stt.Language != "" {
		fields = append(fields, [2]string{"language", stt.Language})
	}
	if prompt := sttPrompt(stt); prompt != "" {
		fields = append(fields, [2]string{"prompt", prompt})
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return "", fmt.Errorf("write field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/audio/transcriptions", &body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("transcription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("transcription", resp)
	}

	var out transcriptionResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode transcription: %w", err)
	}
	return out.Text, nil
}

// sttPrompt joins vocabulary and free-form instructions into the prompt hint
// the transcription endpoint accepts.
func sttPrompt(stt instructions.STT) string {
	var parts []string
	if len(stt.Vocabulary) > 0 {
		parts = append(parts, "Vocabulary: "+strings.Join(stt.Vocabulary, ", ")+".")
	}
	for _, line := range stt.Instructions {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, " ")
}
