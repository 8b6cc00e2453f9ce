package cmd

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/k3a/html2text"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/model"
)

var (
	showJSON bool
	showHTML bool
)

var showCmd = &cobra.Command{
	Use:   "show [message id]",
	Short: "Show one message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(r *archive.Reader) error {
			d, err := r.Message(args[0])
			if err != nil {
				return err
			}
			if showJSON {
				return printJSON(cmd.OutOrStdout(), d)
			}
			return printMessage(cmd.OutOrStdout(), d, showHTML)
		})
	},
}

func printMessage(w io.Writer, d *archive.MessageDetail, rawHTML bool) error {
	fmt.Fprintf(w, "ID:      %s\n", d.ID)
	fmt.Fprintf(w, "Date:    %s\n", d.Date)
	fmt.Fprintf(w, "From:    %s\n", d.From)
	fmt.Fprintf(w, "To:      %s\n", d.To)
	fmt.Fprintf(w, "Subject: %s\n", d.Subject)
	if len(d.Labels) > 0 {
		fmt.Fprintf(w, "Labels:  %s\n", strings.Join(d.Labels, ", "))
	}
	for _, a := range d.Attachments {
		line := fmt.Sprintf("Attach:  %s (%s)", a.Filename, a.ContentType)
		if a.ContentID != nil {
			line += " cid:" + model.Str(a.ContentID)
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)

	body := d.Body
	if d.IsHTML && !rawHTML {
		body = html2text.HTML2Text(body)
	}
	_, err := fmt.Fprintln(w, strings.TrimRight(body, "\r\n"))
	return err
}

var attachmentOutput string

var attachmentCmd = &cobra.Command{
	Use:   "attachment [message id] [filename]",
	Short: "Save an attachment of a message",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withArchive(func(r *archive.Reader) error {
			a, err := r.Attachment(args[0], args[1])
			if err != nil {
				return err
			}

			if attachmentOutput == "-" {
				_, err := cmd.OutOrStdout().Write(a.Data)
				return err
			}
			out := attachmentOutput
			if out == "" {
				out = filepath.Base(a.Filename)
			}
			if err := os.WriteFile(out, a.Data, 0o644); err != nil {
				return fmt.Errorf("save attachment: %w", err)
			}
			logger.Info("attachment saved", "id", args[0], "filename", a.Filename, "contentType", a.ContentType, "bytes", len(a.Data), "path", out)
			return nil
		})
	},
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print JSON")
	showCmd.Flags().BoolVar(&showHTML, "html", false, "Print HTML bodies as is instead of converting them to text")
	rootCmd.AddCommand(showCmd)

	attachmentCmd.Flags().StringVarP(&attachmentOutput, "output", "o", "", "Destination file, - for stdout (defaults to the attachment name)")
	rootCmd.AddCommand(attachmentCmd)
}
