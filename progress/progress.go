package progress

import (
	"fmt"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/runner"
)

// Bar manages a percentage progress bar for a conversion.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	mu      sync.Mutex
	enabled bool
	current int
}

// New creates a new progress bar if logLevel is "info". At other levels the
// log lines would interleave with the bar, so it stays silent.
func New(input string, totalBytes int64, logLevel string) *Bar {
	bar := &Bar{enabled: logLevel == "info"}

	if bar.enabled {
		pterm.Info.Printf("Converting: %s\n", input)
		if totalBytes > 0 {
			pterm.Info.Printf("Input size: %s\n", formatBytes(totalBytes))
		}
		pterm.Println()

		pb, _ := pterm.DefaultProgressbar.
			WithTotal(100).
			WithTitle("Converting messages").
			Start()
		bar.pb = pb
	}

	return bar
}

// Update moves the bar to the status percentage.
func (b *Bar) Update(st runner.Status) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if delta := st.Percent - b.current; delta > 0 {
		b.pb.Add(delta)
		b.current = st.Percent
	}
	b.pb.UpdateTitle(fmt.Sprintf("Converting: %d messages", st.Messages))
}

// Stop finalizes the progress bar.
func (b *Bar) Stop(outcome archive.Outcome) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if outcome == archive.Completed && b.current < 100 {
		b.pb.Add(100 - b.current)
		b.current = 100
	}

	_, _ = b.pb.Stop()
	if outcome == archive.Aborted {
		pterm.Warning.Println("Conversion aborted, archive contains the messages read so far")
		return
	}
	pterm.Success.Println("Conversion complete!")
}

// Abandon removes the bar after a failed conversion.
func (b *Bar) Abandon() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	_, _ = b.pb.Stop()
}

// PrintSummary prints the final statistics of a build.
func PrintSummary(res archive.Result, output string) {
	s := res.Summary
	pterm.Println()
	pterm.DefaultSection.Println("Summary Statistics")
	pterm.Info.Printf("Archive: %s\n", output)
	pterm.Info.Printf("Outcome: %s\n", res.Outcome)
	pterm.Info.Printf("Duration: %v\n", s.Duration)
	pterm.Info.Printf("Messages read: %d\n", s.Messages)
	pterm.Info.Printf("Stored: %d\n", s.Stored)
	if s.Dropped > 0 {
		pterm.Warning.Printf("Dropped (unparseable): %d\n", s.Dropped)
	}
	pterm.Info.Printf("Input read: %s of %s (%d%%)\n", formatBytes(s.BytesRead), formatBytes(s.TotalBytes), s.Percent())
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
