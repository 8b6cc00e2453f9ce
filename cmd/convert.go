package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mbox-to-mbxc/archive"
	"github.com/dhcgn/mbox-to-mbxc/progress"
	"github.com/dhcgn/mbox-to-mbxc/runner"
)

var (
	convertOutput string
	progressEvery int
)

var convertCmd = &cobra.Command{
	Use:   "convert [mbox file]",
	Short: "Convert an mbox file into an MBXC archive",
	Long:  "Convert an mbox file into an MBXC archive. Ctrl-C stops the conversion and keeps a valid archive of the messages read so far.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		input := args[0]
		output := convertOutput
		if output == "" {
			output = cfg.ArchivePath
		}

		info, err := os.Stat(input)
		if err != nil {
			return fmt.Errorf("input: %w", err)
		}
		if dir := filepath.Dir(output); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("output directory: %w", err)
			}
		}

		bar := progress.New(input, info.Size(), cfg.LogLevel)

		var (
			result   archive.Result
			buildErr error
		)
		conv := runner.New(logger)
		conv.OnComplete = func(res archive.Result, err error) {
			result, buildErr = res, err
		}

		if err := conv.Start(input, output, runner.Options{
			ProgressEvery: progressEvery,
			OnProgress:    bar.Update,
		}); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		finished := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				conv.Abort()
			case <-finished:
			}
		}()

		conv.Wait()
		close(finished)

		if buildErr != nil {
			bar.Abandon()
			return fmt.Errorf("convert %s: %w", input, buildErr)
		}
		bar.Stop(result.Outcome)
		progress.PrintSummary(result, output)
		return nil
	},
}

func init() {
	convertCmd.Flags().StringVarP(&convertOutput, "output", "o", "", "Archive to write (defaults to the configured archive path)")
	convertCmd.Flags().IntVar(&progressEvery, "progress-every", 500, "Report progress every N messages")
	rootCmd.AddCommand(convertCmd)
}
