package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lalithlochan/pulse/internal/app"
	"github.com/lalithlochan/pulse/internal/synthetic"
)

var sitesFile string

var syntheticCmd = &cobra.Command{
	Use:   "synthetic",
	Short: "Synthetic storefront journeys",
}

var syntheticRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the journey against every site and print the report",
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := readInput(sitesFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		in, err := synthetic.ParseInput(data)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		invoker, err := app.NewInvoker(ctx, cfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create invoker: %w", err)
		}
		defer invoker.Close()

		runner, err := app.NewRunner(ctx, cfg, invoker, logger)
		if err != nil {
			return fmt.Errorf("failed to create runner: %w", err)
		}

		report, runErr := runner.Run(ctx, in)
		if report != nil {
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
		}
		if runErr != nil {
			return runErr
		}
		if !report.Success {
			return errors.New("synthetic journey failed")
		}
		return nil
	},
}

// readInput reads path, or stdin when path is "-".
func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" {
		return nil, errors.New("--sites-file is required")
	}
	if path == "-" {
		return io.ReadAll(stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sites file: %w", err)
	}
	return data, nil
}

func init() {
	syntheticRunCmd.Flags().StringVar(&sitesFile, "sites-file", "", `JSON file with {"sites": [...]}, or "-" for stdin`)
	syntheticCmd.AddCommand(syntheticRunCmd)
}
