package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-mbxc/extract"
	"github.com/dhcgn/mbox-to-mbxc/header"
	"github.com/dhcgn/mbox-to-mbxc/mbox"
	"github.com/dhcgn/mbox-to-mbxc/stats"
)

const labelsField = "X-Gmail-Labels"

var (
	reportDir string
	topN      int
)

var headersToTrack = []string{"Delivered-To", "Subject", "From", "To", labelsField}

var statsCmd = &cobra.Command{
	Use:   "stats [mbox file]",
	Short: "Analyse the mbox file and show statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mboxPath := args[0]
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Analyzing mbox file:", mboxPath)

		total, err := mbox.CountMessages(mboxPath)
		if err != nil {
			return fmt.Errorf("error counting messages: %w", err)
		}
		fmt.Fprintf(out, "Messages in mbox: %d\n", total)

		counter := stats.NewCounter(headersToTrack...)
		messageCount := 0
		printStats := func(redraw bool) {
			if redraw {
				// ANSI escape code to clear screen and move cursor to top-left
				fmt.Fprint(out, "\033[H\033[2J")
			}
			fmt.Fprintf(out, "Processed %d of %d messages...\n\n", messageCount, total)
			for _, h := range counter.Fields() {
				fmt.Fprintf(out, "Top %d %s:\n", topN, h)
				counter.PrettyPrintTop(out, h, topN)
				fmt.Fprintln(out)
			}
		}

		err = mbox.Read(mboxPath, func(m *mbox.MboxMessage) error {
			messageCount++
			countMessage(counter, m)
			if messageCount%250 == 0 {
				printStats(true)
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("error reading mbox file: %w", err)
		}

		// Final print
		printStats(false)

		if err := saveCSVReports(counter, reportDir, 1000); err != nil {
			return fmt.Errorf("error saving CSV reports: %w", err)
		}

		fmt.Fprintf(out, "\nReports saved to directory: %s\n", reportDir)
		return nil
	},
}

// countMessage decodes the tracked headers and counts them. Labels are
// counted one by one.
func countMessage(counter *stats.Counter, m *mbox.MboxMessage) {
	for _, name := range headersToTrack {
		value := m.Headers.Get(name)
		if value == "" {
			continue
		}
		value = header.Decode(value)
		if name == labelsField {
			for _, l := range extract.Labels(value) {
				counter.Add(name, l)
			}
			continue
		}
		counter.Add(name, value)
	}
}

func init() {
	statsCmd.Flags().StringVarP(&reportDir, "output", "o", ".", "Output directory for CSV reports")
	statsCmd.Flags().IntVarP(&topN, "top", "t", 10, "Number of top items to display in statistics")
	rootCmd.AddCommand(statsCmd)
}

func saveCSVReports(counter *stats.Counter, dir string, limit int) error {
	// Create directory if it doesn't exist
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, field := range counter.Fields() {
		filePath := filepath.Join(dir, fmt.Sprintf("report_%s.csv", normalizeHeaderName(field)))
		file, err := os.Create(filePath)
		if err != nil {
			return err
		}
		err = writeCSVReport(file, counter.Top(field, limit))
		if cerr := file.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("%s: %w", filePath, err)
		}
	}
	return nil
}

func writeCSVReport(w io.Writer, pairs []stats.Pair) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"Value", "Count"}); err != nil {
		return err
	}
	for _, p := range pairs {
		if err := writer.Write([]string{p.Key, strconv.Itoa(p.Value)}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func normalizeHeaderName(field string) string {
	// Convert to lowercase and replace invalid filename chars
	name := strings.ToLower(field)
	name = strings.ReplaceAll(name, "-", "_")
	name = strings.ReplaceAll(name, " ", "_")
	return name
}
