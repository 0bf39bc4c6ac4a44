// Package tailer wraps nxadm/tail with a line-channel interface for the
// follow command.
package tailer

import (
	"context"
	"io"
	"runtime"
	"time"

	"github.com/nxadm/tail"
)

// Line is one log line read while tailing.
type Line struct {
	Text string
	Time time.Time
}

// Config controls how a file is tailed.
type Config struct {
	// FromStart reads the whole file before following new lines.
	FromStart bool

	// Poll forces polling instead of inotify. Defaults to true on Windows
	// where inotify-style watching is unreliable on some filesystems.
	Poll bool
}

// DefaultConfig returns a tail-from-end configuration.
func DefaultConfig() Config {
	return Config{
		FromStart: false,
		Poll:      runtime.GOOS == "windows",
	}
}

// Tailer follows one file and delivers its lines.
type Tailer struct {
	t      *tail.Tail
	lines  chan Line
	errs   chan error
	cancel context.CancelFunc
}

// New starts tailing path. The tailer stops when ctx is cancelled or Stop
// is called.
func New(ctx context.Context, path string, cfg Config) (*Tailer, error) {
	tcfg := tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      cfg.Poll,
		Logger:    tail.DiscardingLogger,
	}
	if !cfg.FromStart {
		tcfg.Location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	t, err := tail.TailFile(path, tcfg)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	tl := &Tailer{
		t:      t,
		lines:  make(chan Line),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go tl.run(ctx)
	return tl, nil
}

func (tl *Tailer) run(ctx context.Context) {
	defer close(tl.lines)
	defer close(tl.errs)
	defer tl.t.Cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = tl.t.Stop()
			return
		case line, ok := <-tl.t.Lines:
			if !ok {
				return
			}
			if line.Err != nil {
				select {
				case tl.errs <- line.Err:
				case <-ctx.Done():
					_ = tl.t.Stop()
					return
				}
				continue
			}
			select {
			case tl.lines <- Line{Text: line.Text, Time: line.Time}:
			case <-ctx.Done():
				_ = tl.t.Stop()
				return
			}
		}
	}
}

// Lines returns the channel of tailed lines. It is closed when the tailer
// stops.
func (tl *Tailer) Lines() <-chan Line {
	return tl.lines
}

// Errors returns non-fatal read errors.
func (tl *Tailer) Errors() <-chan error {
	return tl.errs
}

// Stop terminates tailing. Safe to call multiple times.
func (tl *Tailer) Stop() error {
	tl.cancel()
	return nil
}
