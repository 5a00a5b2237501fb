package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

const defaultPasteDelay = 80 * time.Millisecond

var (
	listenerBackends = []string{"auto", "evdev", "native"}
	audioFormats     = []string{"flac", "wav"}
	logLevels        = []string{"debug", "info", "warn", "error"}
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if err := oneOf("listener.backend", cfg.Listener.Backend, listenerBackends); err != nil {
		return nil, err
	}
	for _, dev := range cfg.Listener.Devices {
		if strings.TrimSpace(dev) == "" {
			return nil, fmt.Errorf("listener.devices must not contain empty entries")
		}
	}
	if cfg.Worker.CancelGraceMS < 0 {
		return nil, fmt.Errorf("worker.cancel_grace_ms must be >= 0")
	}
	if cfg.Worker.CancelGraceMS == 0 {
		warnings = append(warnings, Warning{Message: "worker.cancel_grace_ms=0 abandons cancelled tasks immediately"})
	}
	if err := oneOf("audio.format", cfg.Audio.Format, audioFormats); err != nil {
		return nil, err
	}

	base := strings.TrimSpace(cfg.Processing.BaseURL)
	if base == "" {
		warnings = append(warnings, Warning{Message: "processing.base_url is empty; recordings cannot be transcribed"})
	} else {
		u, err := url.Parse(base)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("processing.base_url must be an http(s) URL")
		}
	}
	if strings.TrimSpace(cfg.Processing.STTModel) == "" {
		return nil, fmt.Errorf("processing.stt_model must not be empty")
	}
	if cfg.Processing.TimeoutMS <= 0 {
		return nil, fmt.Errorf("processing.timeout_ms must be > 0")
	}
	if hp := strings.TrimSpace(cfg.Processing.GRPCHealth); hp != "" {
		if _, _, err := net.SplitHostPort(hp); err != nil {
			return nil, fmt.Errorf("processing.grpc_health must be host:port: %w", err)
		}
	}

	if emptyCommand(cfg.Output.Clipboard) {
		return nil, fmt.Errorf("output.clipboard_cmd is configured but empty")
	}
	if emptyCommand(cfg.Output.Paste) {
		return nil, fmt.Errorf("output.paste_cmd is configured but empty")
	}
	if cfg.Output.PasteDelay < 0 {
		return nil, fmt.Errorf("output.paste_delay_ms must be >= 0")
	}

	if cfg.Feed.Enable {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(cfg.Feed.Addr)); err != nil {
			return nil, fmt.Errorf("feed.addr must be host:port when feed.enable=true")
		}
	}

	if err := oneOf("log.level", cfg.Log.Level, logLevels); err != nil {
		return nil, err
	}

	return warnings, nil
}

func oneOf(field, value string, allowed []string) error {
	value = strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of: %s", field, strings.Join(allowed, ", "))
}

// emptyCommand reports a raw command that parsed to nothing without being
// commented out.
func emptyCommand(c CommandConfig) bool {
	raw := strings.TrimSpace(c.Raw)
	return raw != "" && !strings.HasPrefix(raw, "#") && len(c.Argv) == 0
}
