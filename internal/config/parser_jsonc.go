package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

type jsoncConfig struct {
	Listener     *jsoncListener     `json:"listener"`
	Worker       *jsoncWorker       `json:"worker"`
	Audio        *jsoncAudio        `json:"audio"`
	Processing   *jsoncProcessing   `json:"processing"`
	Output       *jsoncOutput       `json:"output"`
	Instructions *jsoncInstructions `json:"instructions"`
	Feed         *jsoncFeed         `json:"feed"`
	History      *jsoncHistory      `json:"history"`
	Log          *jsoncLog          `json:"log"`
	Debug        *jsoncDebug        `json:"debug"`
}

type jsoncListener struct {
	Backend *string          `json:"backend"`
	Devices *jsoncStringList `json:"devices"`
}

type jsoncWorker struct {
	CancelGraceMS *int `json:"cancel_grace_ms"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
	Format   *string `json:"format"`
}

type jsoncProcessing struct {
	BaseURL    *string `json:"base_url"`
	APIKeyEnv  *string `json:"api_key_env"`
	STTModel   *string `json:"stt_model"`
	LLMModel   *string `json:"llm_model"`
	TimeoutMS  *int    `json:"timeout_ms"`
	GRPCHealth *string `json:"grpc_health"`
}

type jsoncOutput struct {
	ClipboardCmd *string `json:"clipboard_cmd"`
	PasteCmd     *string `json:"paste_cmd"`
	PasteDelayMS *int    `json:"paste_delay_ms"`
}

type jsoncInstructions struct {
	Path  *string `json:"path"`
	Watch *bool   `json:"watch"`
}

type jsoncFeed struct {
	Enable *bool   `json:"enable"`
	Addr   *string `json:"addr"`
}

type jsoncHistory struct {
	Enable *bool   `json:"enable"`
	Path   *string `json:"path"`
}

type jsoncLog struct {
	Level *string `json:"level"`
}

type jsoncDebug struct {
	KeepAudio *bool `json:"keep_audio"`
}

type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		parts := strings.Split(single, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			out = append(out, part)
		}
		*l = out
		return nil
	}

	return fmt.Errorf("expected string array or comma-delimited string")
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if l := payload.Listener; l != nil {
		setString(&cfg.Listener.Backend, l.Backend)
		if l.Devices != nil {
			cfg.Listener.Devices = append([]string(nil), (*l.Devices)...)
		}
	}

	if payload.Worker != nil && payload.Worker.CancelGraceMS != nil {
		cfg.Worker.CancelGraceMS = *payload.Worker.CancelGraceMS
	}

	if a := payload.Audio; a != nil {
		if a.Input != nil {
			cfg.Audio.Input = *a.Input
		}
		if a.Fallback != nil {
			cfg.Audio.Fallback = *a.Fallback
		}
		if a.Format != nil {
			cfg.Audio.Format = strings.ToLower(strings.TrimSpace(*a.Format))
		}
	}

	if p := payload.Processing; p != nil {
		setString(&cfg.Processing.BaseURL, p.BaseURL)
		setString(&cfg.Processing.APIKeyEnv, p.APIKeyEnv)
		setString(&cfg.Processing.STTModel, p.STTModel)
		setString(&cfg.Processing.LLMModel, p.LLMModel)
		setString(&cfg.Processing.GRPCHealth, p.GRPCHealth)
		if p.TimeoutMS != nil {
			cfg.Processing.TimeoutMS = *p.TimeoutMS
		}
	}

	if o := payload.Output; o != nil {
		if o.ClipboardCmd != nil {
			cmd, err := ParseCommand(*o.ClipboardCmd)
			if err != nil {
				return nil, fmt.Errorf("invalid output.clipboard_cmd: %w", err)
			}
			cfg.Output.Clipboard = cmd
		}
		if o.PasteCmd != nil {
			cmd, err := ParseCommand(*o.PasteCmd)
			if err != nil {
				return nil, fmt.Errorf("invalid output.paste_cmd: %w", err)
			}
			cfg.Output.Paste = cmd
		}
		if o.PasteDelayMS != nil {
			cfg.Output.PasteDelay = time.Duration(*o.PasteDelayMS) * time.Millisecond
		}
	}

	if i := payload.Instructions; i != nil {
		setString(&cfg.Instructions.Path, i.Path)
		if i.Watch != nil {
			cfg.Instructions.Watch = *i.Watch
		}
	}

	if f := payload.Feed; f != nil {
		if f.Enable != nil {
			cfg.Feed.Enable = *f.Enable
		}
		setString(&cfg.Feed.Addr, f.Addr)
	}

	if h := payload.History; h != nil {
		if h.Enable != nil {
			cfg.History.Enable = *h.Enable
		}
		setString(&cfg.History.Path, h.Path)
	}

	if payload.Log != nil && payload.Log.Level != nil {
		cfg.Log.Level = strings.ToLower(strings.TrimSpace(*payload.Log.Level))
	}

	if payload.Debug != nil && payload.Debug.KeepAudio != nil {
		cfg.Debug.KeepAudio = *payload.Debug.KeepAudio
	}

	return warnings, nil
}

func normalizeJSONC(content string) (string, error) {
	withoutComments, err := stripJSONCComments(content)
	if err != nil {
		return "", err
	}
	return stripJSONCTrailingCommas(withoutComments), nil
}

func stripJSONCComments(content string) (string, error) {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false
	lineComment := false
	blockComment := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if lineComment {
			if ch == '\n' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			if ch == '\r' {
				lineComment = false
				out.WriteByte(ch)
				continue
			}
			out.WriteByte(' ')
			continue
		}

		if blockComment {
			if ch == '*' && i+1 < len(content) && content[i+1] == '/' {
				blockComment = false
				out.WriteString("  ")
				i++
				continue
			}
			if ch == '\n' || ch == '\r' || ch == '\t' {
				out.WriteByte(ch)
			} else {
				out.WriteByte(' ')
			}
			continue
		}

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == '/' && i+1 < len(content) {
			next := content[i+1]
			if next == '/' {
				lineComment = true
				out.WriteString("  ")
				i++
				continue
			}
			if next == '*' {
				blockComment = true
				out.WriteString("  ")
				i++
				continue
			}
		}

		out.WriteByte(ch)
	}

	if blockComment {
		return "", fmt.Errorf("unterminated block comment in JSONC")
	}

	return out.String(), nil
}

func stripJSONCTrailingCommas(content string) string {
	var out strings.Builder
	out.Grow(len(content))

	inString := false
	escape := false

	for i := 0; i < len(content); i++ {
		ch := content[i]

		if inString {
			out.WriteByte(ch)
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		if ch == '"' {
			inString = true
			out.WriteByte(ch)
			continue
		}

		if ch == ',' {
			j := i + 1
			for j < len(content) && isJSONWhitespace(content[j]) {
				j++
			}
			if j < len(content) && (content[j] == '}' || content[j] == ']') {
				continue
			}
		}

		out.WriteByte(ch)
	}

	return out.String()
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	limit := int(offset)
	if limit > len(content) {
		limit = len(content)
	}

	line := 1
	col := 1
	for i := 0; i < limit-1; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
