package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandRun     Command = "run"
	CommandToggle  Command = "toggle"
	CommandStart   Command = "start"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandDevices Command = "devices"
	CommandKeys    Command = "keys"
	CommandHistory Command = "history"
	CommandDoctor  Command = "doctor"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

// DefaultHistoryLimit is the row count printed by `history` without an argument.
const DefaultHistoryLimit = 10

var validCommands = map[Command]struct{}{
	CommandRun:     {},
	CommandToggle:  {},
	CommandStart:   {},
	CommandStop:    {},
	CommandCancel:  {},
	CommandStatus:  {},
	CommandDevices: {},
	CommandKeys:    {},
	CommandHistory: {},
	CommandDoctor:  {},
	CommandVersion: {},
	CommandHelp:    {},
}

type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
	// Set is the instruction set named by `start`.
	Set string
	// Limit is the row count for `history`.
	Limit int
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config":
			i++
			if i >= len(args) {
				return Parsed{}, errors.New("--config requires a path")
			}
			parsed.ConfigPath = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			if err := parseOperands(&parsed, args[i+1:]); err != nil {
				return Parsed{}, err
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

// parseOperands accepts the single optional operand of `start` and
// `history`; every other command takes none.
func parseOperands(parsed *Parsed, rest []string) error {
	if parsed.Command == CommandHistory {
		parsed.Limit = DefaultHistoryLimit
	}
	if len(rest) == 0 {
		return nil
	}
	if len(rest) > 1 || strings.HasPrefix(rest[0], "-") {
		return fmt.Errorf("unexpected arguments after command %q", parsed.Command)
	}

	switch parsed.Command {
	case CommandStart:
		parsed.Set = strings.TrimSpace(rest[0])
		if parsed.Set == "" {
			return errors.New("start: instruction set name is empty")
		}
	case CommandHistory:
		n, err := strconv.Atoi(rest[0])
		if err != nil || n <= 0 {
			return fmt.Errorf("history: limit must be a positive integer, got %q", rest[0])
		}
		parsed.Limit = n
	default:
		return fmt.Errorf("unexpected arguments after command %q", parsed.Command)
	}
	return nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] <command> [argument]

Commands:
  run           Run the daemon: global hotkeys, control socket, event feed
  toggle        Start recording, stop+process when recording, cancel when processing
  start [SET]   Start recording with the named instruction set (default: active set)
  stop          Stop active recording and process it
  cancel        Cancel active recording or processing
  status        Print current state
  keys          Print hotkey bindings
  history [N]   Print the N most recent sessions (default: %[2]d)
  devices       List available input devices
  doctor        Run configuration and environment checks
  version       Print version information
  help          Show this help

Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/murmur/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName, DefaultHistoryLimit)
}
