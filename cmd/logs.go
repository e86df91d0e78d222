package cmd

import (
	"errors"
	"fmt"

	"github.com/hpcloud/tail"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	var follow bool
	var file string
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the agent log file",
		Long: `Prints logger.log_file. With --follow, keeps printing new lines, including
across rotations, until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := getConfigFromContext(cmd.Context())
				if err != nil {
					return err
				}
				path = cfg.Logger().LogFile
			}
			if path == "" {
				return errors.New("logger.log_file is not configured")
			}
			return printLog(cmd, path, follow)
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing new lines")
	cmd.Flags().StringVar(&file, "file", "", "log file to read instead of logger.log_file")
	return cmd
}

func printLog(cmd *cobra.Command, path string, follow bool) error {
	t, err := tail.TailFile(path, tail.Config{
		Follow:    follow,
		ReOpen:    follow,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer t.Cleanup()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	for {
		select {
		case <-ctx.Done():
			_ = t.Stop()
			return nil
		case line, ok := <-t.Lines:
			if !ok {
				return t.Wait()
			}
			if line.Err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), "read error:", line.Err)
				continue
			}
			fmt.Fprintln(out, line.Text)
		}
	}
}
