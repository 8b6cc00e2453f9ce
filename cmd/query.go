package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/model"
)

var labelsJSON bool

var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "List the labels of the archive",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(r *archive.Reader) error {
			labels, err := r.Labels()
			if err != nil {
				return err
			}
			if labelsJSON {
				return printJSON(cmd.OutOrStdout(), labels)
			}
			for _, l := range labels {
				fmt.Fprintln(cmd.OutOrStdout(), l)
			}
			return nil
		})
	},
}

var (
	searchQuery    archive.Query
	searchHasAttch bool
	searchFTS      string
	searchJSON     bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search the archive metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		q := searchQuery
		if cmd.Flags().Changed("has-attachment") {
			has := searchHasAttch
			q.HasAttachment = &has
		}

		return withArchive(func(r *archive.Reader) error {
			var res archive.SearchResult
			if searchFTS != "" {
				messages, err := r.FullText(cmd.Context(), searchFTS, q.Limit)
				if err != nil {
					return err
				}
				res = archive.SearchResult{Total: len(messages), Messages: messages}
			} else {
				var err error
				if res, err = r.Search(q); err != nil {
					return err
				}
			}

			if searchJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			return printResults(cmd.OutOrStdout(), res)
		})
	},
}

func printResults(w io.Writer, res archive.SearchResult) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tFROM\tSUBJECT\tLABELS")
	for _, m := range res.Messages {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			m.ID,
			model.Str(m.DateSentISO),
			truncate(model.Str(m.SenderName), 32),
			truncate(model.Str(m.Subject), 60),
			strings.Join(m.GmailLabels, ", "),
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "\n%d of %d messages\n", len(res.Messages), res.Total)
	return err
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	labelsCmd.Flags().BoolVar(&labelsJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(labelsCmd)

	f := searchCmd.Flags()
	f.StringVar(&searchQuery.Any, "any", "", "Match subject, sender name or sender address")
	f.StringVar(&searchQuery.Sender, "sender", "", "Match sender name or address")
	f.StringVar(&searchQuery.Subject, "subject", "", "Match subject")
	f.StringVar(&searchQuery.Label, "label", "", "Only messages carrying this label")
	f.BoolVar(&searchHasAttch, "has-attachment", false, "Only messages with attachments")
	f.StringVar(&searchQuery.DateFrom, "from", "", "Earliest send date (ISO 8601, compared as text)")
	f.StringVar(&searchQuery.DateTo, "to", "", "Latest send date (ISO 8601, compared as text)")
	f.IntVar(&searchQuery.Limit, "limit", archive.DefaultLimit, "Page size")
	f.IntVar(&searchQuery.Offset, "offset", 0, "Page offset")
	f.StringVar(&searchFTS, "fts", "", "Run an FTS5 full-text query instead of the metadata filters")
	f.BoolVar(&searchJSON, "json", false, "Print JSON")
	rootCmd.AddCommand(searchCmd)
}
