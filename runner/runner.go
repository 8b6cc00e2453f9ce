// Package runner runs one archive conversion at a time in the background
// and exposes its progress.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/stats"
)

var ErrAlreadyRunning = errors.New("conversion already running")

// Status is a point-in-time view of the conversion job.
type Status struct {
	Running    bool   `json:"running"`
	Aborted    bool   `json:"aborted"`
	Error      string `json:"error,omitempty"`
	BytesRead  int64  `json:"bytes_read"`
	TotalBytes int64  `json:"total_bytes"`
	Messages   int    `json:"messages"`
	Percent    int    `json:"percent"`
	Current    string `json:"current"`
}

type Options struct {
	ProgressEvery int
	// OnProgress receives every status update. It runs on the conversion
	// goroutine.
	OnProgress func(Status)
}

type Converter struct {
	logger *slog.Logger

	// OnComplete, when set, is called after each run with the build result,
	// before Wait returns.
	OnComplete func(archive.Result, error)

	mu     sync.Mutex
	status Status
	cancel context.CancelFunc
	done   chan struct{}
	since  time.Time
}

func New(logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{logger: logger}
}

// Start converts input into output in the background.
func (c *Converter) Start(input, output string, opts Options) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Running {
		return ErrAlreadyRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})
	c.status = Status{Running: true, Current: input}
	c.since = time.Now()

	c.logger.Info("conversion started", "input", input, "output", output)
	go c.run(ctx, input, output, opts, c.done)
	return nil
}

func (c *Converter) run(ctx context.Context, input, output string, opts Options, done chan struct{}) {
	defer close(done)

	res, err := archive.Build(ctx, input, output, archive.BuildOptions{
		ProgressEvery: opts.ProgressEvery,
		Logger:        c.logger,
		Progress: func(p archive.Progress) {
			st := c.update(p)
			if opts.OnProgress != nil {
				opts.OnProgress(st)
			}
		},
	})

	c.mu.Lock()
	c.cancel()
	c.status.Running = false
	if err != nil {
		c.status.Error = err.Error()
	} else {
		c.status.Aborted = res.Outcome == archive.Aborted
		c.status.BytesRead = res.Summary.BytesRead
		c.status.TotalBytes = res.Summary.TotalBytes
		c.status.Messages = res.Summary.Messages
		c.status.Percent = res.Summary.Percent()
	}
	onComplete := c.OnComplete
	duration := time.Since(c.since)
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("conversion failed", "input", input, "duration", duration, "err", err)
	} else {
		c.logger.Info("conversion finished", "input", input, "outcome", res.Outcome.String(), "duration", duration)
	}
	if onComplete != nil {
		onComplete(res, err)
	}
}

func (c *Converter) update(p archive.Progress) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.BytesRead = p.BytesRead
	c.status.TotalBytes = p.TotalBytes
	c.status.Messages = p.Messages
	c.status.Percent = stats.Percent(p.BytesRead, p.TotalBytes)
	return c.status
}

func (c *Converter) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Abort asks a running conversion to stop. The archive written so far is
// finalized and the run ends as aborted.
func (c *Converter) Abort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status.Running && c.cancel != nil {
		c.logger.Info("conversion abort requested", "input", c.status.Current)
		c.cancel()
	}
}

// Wait blocks until the current run, if any, has finished.
func (c *Converter) Wait() Status {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	return c.Status()
}
