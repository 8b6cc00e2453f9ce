// Package archive writes and reads MBXC containers: a ZIP file holding one
// entry per raw message, a JSON metadata index and an SQLite full-text
// index.
package archive

import (
	"archive/zip"
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dhcgn/mbox-to-mbxc/extract"
	"github.com/dhcgn/mbox-to-mbxc/mbox"
	"github.com/dhcgn/mbox-to-mbxc/model"
	"github.com/dhcgn/mbox-to-mbxc/stats"
)

const (
	MetadataName = "metadata.json"
	IndexName    = "metadata.db"

	defaultProgressEvery = 500
)

// MessageName maps a 1-based sequence number to its container entry name,
// which is also the message id.
func MessageName(seq int) string {
	return fmt.Sprintf("msg_%06d.eml", seq)
}

// Outcome is the non-error result of a build.
type Outcome int

const (
	Completed Outcome = iota
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// Progress is reported while a build runs.
type Progress struct {
	BytesRead  int64
	TotalBytes int64
	Messages   int
}

type ProgressFunc func(Progress)

type BuildOptions struct {
	// Progress is called every ProgressEvery messages and once more when
	// the loop ends. It runs on the build goroutine and must return quickly.
	Progress      ProgressFunc
	ProgressEvery int
	Logger        *slog.Logger
}

type Result struct {
	Outcome Outcome
	Summary stats.Summary
}

// Build converts the mbox at inputPath into an archive at outputPath.
//
// ctx is checked before each message. Once it is done the build stops,
// finalizes what was written so far and reports Aborted with a nil error.
func Build(ctx context.Context, inputPath, outputPath string, opts BuildOptions) (Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	every := opts.ProgressEvery
	if every <= 0 {
		every = defaultProgressEvery
	}
	started := time.Now()

	in, err := os.Open(inputPath)
	if err != nil {
		return Result{}, fmt.Errorf("open input: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat input: %w", err)
	}

	idx, err := newIndexBuilder()
	if err != nil {
		return Result{}, err
	}
	defer idx.cleanup()

	out, err := os.Create(outputPath)
	if err != nil {
		return Result{}, fmt.Errorf("create output: %w", err)
	}
	defer out.Close()

	w := &containerWriter{
		buf: bufio.NewWriterSize(out, 1<<20),
	}
	w.zip = zip.NewWriter(w.buf)

	seg := mbox.NewSegmenter(in)
	summary := stats.Summary{TotalBytes: info.Size()}
	report := func() {
		summary.BytesRead = seg.BytesRead()
		if opts.Progress != nil {
			opts.Progress(Progress{BytesRead: summary.BytesRead, TotalBytes: summary.TotalBytes, Messages: summary.Messages})
		}
	}

	entries := make([]model.MetadataEntry, 0, 1024)
	outcome := Completed
	for seq := 1; ; seq++ {
		if ctx.Err() != nil {
			outcome = Aborted
			break
		}

		raw, err := seg.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Result{}, err
		}
		summary.Messages = seq

		id := MessageName(seq)
		entry, ok := extract.Extract(raw, id)
		if !ok {
			summary.Dropped++
			logger.Debug("dropping unparseable message", "id", id, "size", len(raw))
		} else {
			if err := w.writeEntry(id, raw); err != nil {
				return Result{}, err
			}
			if err := idx.add(&entry); err != nil {
				return Result{}, err
			}
			entries = append(entries, entry)
			summary.Stored++
		}

		if seq%every == 0 {
			report()
		}
	}
	report()

	metadata, err := json.Marshal(entries)
	if err != nil {
		return Result{}, fmt.Errorf("encode metadata: %w", err)
	}
	if err := w.writeEntry(MetadataName, metadata); err != nil {
		return Result{}, err
	}

	if err := idx.finish(); err != nil {
		return Result{}, err
	}
	if err := w.copyFile(IndexName, idx.path); err != nil {
		return Result{}, err
	}

	if err := w.close(); err != nil {
		return Result{}, err
	}
	if err := out.Close(); err != nil {
		return Result{}, fmt.Errorf("close output: %w", err)
	}

	summary.Duration = time.Since(started)
	logger.Info("archive written", append(summary.LogAttrs(), "outcome", outcome.String(), "output", outputPath)...)
	return Result{Outcome: outcome, Summary: summary}, nil
}

type containerWriter struct {
	buf *bufio.Writer
	zip *zip.Writer
}

func (w *containerWriter) create(name string) (io.Writer, error) {
	hdr := &zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: time.Now(),
	}
	hdr.SetMode(0o644)
	fw, err := w.zip.CreateHeader(hdr)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	return fw, nil
}

func (w *containerWriter) writeEntry(name string, data []byte) error {
	fw, err := w.create(name)
	if err != nil {
		return err
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (w *containerWriter) copyFile(name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer f.Close()

	fw, err := w.create(name)
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, f); err != nil {
		return fmt.Errorf("copy %s: %w", name, err)
	}
	return nil
}

func (w *containerWriter) close() error {
	if err := w.zip.Close(); err != nil {
		return fmt.Errorf("finalize container: %w", err)
	}
	if err := w.buf.Flush(); err != nil {
		return fmt.Errorf("flush container: %w", err)
	}
	return nil
}
