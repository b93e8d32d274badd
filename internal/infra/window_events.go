package infra

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/eliteGoblin/kioskd/internal/domain"
)

// LineStreamer starts a command and returns its stdout plus a wait func.
type LineStreamer func(ctx context.Context, name string, args ...string) (io.Reader, func() error, error)

// WindowResolver maps a window id to the owning package.
type WindowResolver interface {
	WindowOwner(ctx context.Context, windowID string) (string, error)
}

// XpropEventSource watches _NET_ACTIVE_WINDOW on the root window and reports
// every focus change.
type XpropEventSource struct {
	stream   LineStreamer
	resolver WindowResolver
	logger   *zap.Logger
}

// NewXpropEventSource creates an event source backed by `xprop -spy`.
func NewXpropEventSource(resolver WindowResolver, logger *zap.Logger) *XpropEventSource {
	return NewXpropEventSourceWithStreamer(execStreamer, resolver, logger)
}

// NewXpropEventSourceWithStreamer creates an event source with an injectable streamer (for testing).
func NewXpropEventSourceWithStreamer(stream LineStreamer, resolver WindowResolver, logger *zap.Logger) *XpropEventSource {
	return &XpropEventSource{stream: stream, resolver: resolver, logger: logger}
}

// Watch calls fn for every focus change until ctx is canceled or xprop exits.
func (s *XpropEventSource) Watch(ctx context.Context, fn func(packageName string)) error {
	out, wait, err := s.stream(ctx, "xprop", "-root", "-spy", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return fmt.Errorf("start xprop: %w", err)
	}

	s.logger.Info("window event source started")

	var last string
	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		id, ok := parseActiveWindowLine(scanner.Text())
		if !ok || id == last {
			continue
		}
		last = id

		pkg, err := s.resolver.WindowOwner(ctx, id)
		if err != nil {
			s.logger.Debug("could not resolve focused window",
				zap.String("window", id),
				zap.Error(err))
			continue
		}
		fn(pkg)
	}

	waitErr := wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	if waitErr != nil {
		return fmt.Errorf("xprop exited: %w", waitErr)
	}
	return errors.New("xprop exited")
}

// parseActiveWindowLine extracts the window id from a line such as
// "_NET_ACTIVE_WINDOW(WINDOW): window id # 0x3a00007". A zero id means no
// window has focus and is reported as not ok.
func parseActiveWindowLine(line string) (string, bool) {
	const marker = "window id #"
	i := strings.Index(line, marker)
	if i < 0 {
		return "", false
	}
	fields := strings.FieldsFunc(line[i+len(marker):], func(r rune) bool {
		return r == ' ' || r == ','
	})
	if len(fields) == 0 {
		return "", false
	}
	id := fields[0]
	if !strings.HasPrefix(id, "0x") || id == "0x0" {
		return "", false
	}
	return id, true
}

func execStreamer(ctx context.Context, name string, args ...string) (io.Reader, func() error, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, err
	}
	return out, cmd.Wait, nil
}

// Ensure XpropEventSource implements domain.WindowEventSource.
var _ domain.WindowEventSource = (*XpropEventSource)(nil)
