//go:build windows

package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/user"
	"regexp"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
)

const pipePrefix = `\\.\pipe\murmur-`

// RuntimeSocketPath returns the per-user named pipe.
func RuntimeSocketPath() (string, error) {
	name := strings.TrimSpace(os.Getenv("USERNAME"))
	if name == "" {
		current, err := user.Current()
		if err != nil {
			return "", fmt.Errorf("resolve current user: %w", err)
		}
		name = current.Username
	}
	name = strings.Map(func(r rune) rune {
		if r == '\\' || r == '/' || r == ':' || r == ' ' {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "", errors.New("current user name is unavailable")
	}
	return pipePrefix + name, nil
}

func prepare(string) error { return nil }

var validSIDPattern = regexp.MustCompile(`^S-1(-\d+)+$`)

// listen restricts the pipe to SYSTEM and the current user.
func listen(path string) (net.Listener, error) {
	current, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("resolve current user: %w", err)
	}
	sid := strings.TrimSpace(current.Uid)
	if !validSIDPattern.MatchString(sid) {
		return nil, fmt.Errorf("current user SID has unexpected format: %q", sid)
	}
	return winio.ListenPipe(path, &winio.PipeConfig{
		SecurityDescriptor: fmt.Sprintf("D:P(A;;GA;;;SY)(A;;GA;;;%s)", sid),
		InputBufferSize:    maxRequestBytes,
		OutputBufferSize:   maxResponseBytes,
	})
}

func dial(ctx context.Context, path string, timeout time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return winio.DialPipeContext(ctx, path)
}

// Named pipes vanish with their owner, so nothing is left to remove.
func removeStale(string) error { return nil }

func isAddrInUse(err error) bool {
	return errors.Is(err, os.ErrExist) || (err != nil && strings.Contains(err.Error(), "Access is denied"))
}

func isUnreachable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, winio.ErrTimeout)
}
