// Package doctor runs runtime readiness diagnostics for config, hotkeys,
// instruction sets, audio, output, and the processing backend.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/atotto/clipboard"

	"github.com/rbright/murmur/internal/audio"
	"github.com/rbright/murmur/internal/config"
	"github.com/rbright/murmur/internal/instructions"
	"github.com/rbright/murmur/internal/listener"
	"github.com/rbright/murmur/internal/version"
)

const probeTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		b.WriteString(fmt.Sprintf("[%s] %s: %s\n", status, check.Name, check.Message))
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(cfg config.Loaded) Report {
	checks := []Check{}

	checks = append(checks, Check{
		Name:    "config",
		Pass:    true,
		Message: fmt.Sprintf("loaded %q", cfg.Path),
	})

	checks = append(checks, checkListener(cfg.Config.Listener))
	checks = append(checks, checkInstructions(cfg.InstructionsPath()))
	checks = append(checks, checkClipboard(cfg.Config.Output))
	if len(cfg.Config.Output.Paste.Argv) > 0 {
		checks = append(checks, checkCommand(cfg.Config.Output.Paste.Argv, "paste_cmd"))
	}

	checks = append(checks, checkAudioSelection(cfg.Config))
	checks = append(checks, checkAPIKey(cfg.Config.Processing))
	checks = append(checks, checkEndpoint(cfg.Config.Processing))
	if cfg.Config.Processing.GRPCHealth != "" {
		checks = append(checks, checkGRPCHealth(cfg.Config.Processing.GRPCHealth))
	}

	return Report{Checks: checks}
}

// checkListener reports whether the global hotkey backend can observe keys.
func checkListener(cfg config.ListenerConfig) Check {
	name := "listener." + cfg.Backend
	msg, err := listener.Diagnose()
	if err != nil {
		return Check{Name: name, Pass: false, Message: err.Error() + "; hotkeys disabled, use the control socket"}
	}
	return Check{Name: name, Pass: true, Message: msg}
}

// checkInstructions loads the instruction file and its hotkey bindings.
func checkInstructions(path string) Check {
	f, err := instructions.Load(path)
	if err != nil {
		return Check{Name: "instructions", Pass: false, Message: err.Error()}
	}
	bindings, err := f.Bindings()
	if err != nil {
		return Check{Name: "instructions", Pass: false, Message: err.Error()}
	}
	parts := make([]string, 0, len(bindings))
	for _, b := range bindings {
		parts = append(parts, b.Hotkey.String()+"="+b.Owner)
	}
	msg := fmt.Sprintf("%d set(s), active %q", len(f.Sets), f.ActiveName())
	if len(parts) > 0 {
		msg += " [" + strings.Join(parts, ", ") + "]"
	}
	return Check{Name: "instructions", Pass: true, Message: msg}
}

func checkClipboard(cfg config.OutputConfig) Check {
	if len(cfg.Clipboard.Argv) > 0 {
		return checkCommand(cfg.Clipboard.Argv, "clipboard_cmd")
	}
	if clipboard.Unsupported {
		return Check{Name: "clipboard", Pass: false, Message: "no clipboard utility found; install wl-clipboard or xclip, or set output.clipboard_cmd"}
	}
	return Check{Name: "clipboard", Pass: true, Message: "built-in clipboard available"}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

// checkBinary validates that a binary exists in PATH.
func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(cfg config.Config) Check {
	selection, err := audio.SelectDevice(context.Background(), cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkAPIKey(cfg config.ProcessingConfig) Check {
	if cfg.APIKeyEnv == "" {
		return Check{Name: "processing.api_key", Pass: true, Message: "no api_key_env configured; requests are unauthenticated"}
	}
	if _, ok := os.LookupEnv(cfg.APIKeyEnv); !ok || cfg.APIKey() == "" {
		return Check{Name: "processing.api_key", Pass: false, Message: fmt.Sprintf("%s is not set", cfg.APIKeyEnv)}
	}
	return Check{Name: "processing.api_key", Pass: true, Message: fmt.Sprintf("%s is set", cfg.APIKeyEnv)}
}

// checkEndpoint lists models to confirm the API is reachable and accepts the key.
func checkEndpoint(cfg config.ProcessingConfig) Check {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return Check{Name: "processing.endpoint", Pass: false, Message: "processing.base_url is empty"}
	}

	url := base + "/models"
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: "processing.endpoint", Pass: false, Message: err.Error()}
	}
	req.Header.Set("User-Agent", version.UserAgent())
	if key := cfg.APIKey(); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	client := http.Client{Timeout: probeTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return Check{Name: "processing.endpoint", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Check{Name: "processing.endpoint", Pass: false, Message: fmt.Sprintf("HTTP %d from %s; check %s", resp.StatusCode, url, cfg.APIKeyEnv)}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return Check{Name: "processing.endpoint", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}
	return Check{Name: "processing.endpoint", Pass: true, Message: fmt.Sprintf("reachable at %s", base)}
}
