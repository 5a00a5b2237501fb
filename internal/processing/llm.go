package processing

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rbright/murmur/internal/instructions"
)

const defaultRefinePrompt = "Clean up the following dictated text. Fix punctuation and obvious recognition errors. Reply with the text only."

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (p *Pipeline) refine(ctx context.Context, llm instructions.LLM, transcript string, emit func(string)) (string, error) {
	model := llm.Model
	if model == "" {
		model = p.cfg.LLMModel
	}

	payload, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: p.messages(llm, transcript),
		Stream:   true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("refinement request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError("refinement", resp)
	}

	var full strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var chunk chatStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			p.logger.Debug("skip malformed stream chunk", "error", err.Error())
			continue
		}
		if chunk.Error != nil {
			return "", fmt.Errorf("refinement: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			full.WriteString(delta)
			emit(delta)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read refinement stream: %w", err)
	}
	return full.String(), nil
}

func (p *Pipeline) messages(llm instructions.LLM, transcript string) []chatMessage {
	system := strings.TrimSpace(strings.Join(llm.Instructions, "\n"))
	if system == "" {
		system = defaultRefinePrompt
	}
	msgs := []chatMessage{{Role: "system", Content: system}}

	if llm.ClipboardText {
		text, err := p.readClipboard()
		switch {
		case err != nil:
			p.logger.Warn("clipboard context unavailable", "error", err.Error())
		case strings.TrimSpace(text) != "":
			msgs = append(msgs, chatMessage{
				Role:    "user",
				Content: "Context from the clipboard:\n" + text,
			})
		}
	}
	return append(msgs, chatMessage{Role: "user", Content: transcript})
}
