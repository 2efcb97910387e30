package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Expire every attempt whose deadline has passed",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		expired, pending, err := e.SweepOnce(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		fmt.Printf("expired %d attempt(s); %d still running\n", expired, pending)
		return nil
	},
}

var exportCmd = &cobra.Command{
	Use:   "export <assessment-id>",
	Short: "Write an assessment's analytics workbook (.xlsx)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, _ := cmd.Flags().GetString("out")
		if out == "" {
			out = args[0] + "-analytics.xlsx"
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
		defer cancel()

		e, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		f, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := e.Analytics.ExportAssessmentAnalytics(ctx, args[0], f); err != nil {
			f.Close()
			os.Remove(out)
			return fmt.Errorf("export: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		fmt.Printf("wrote %s\n", out)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("out", "o", "", "Output path (default <assessment-id>-analytics.xlsx)")
}
