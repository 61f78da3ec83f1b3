package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func exportCmd() *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Upload the dataset files to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return errors.New("--run-id is required")
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
			defer cancel()

			uploaded, err := uploadRun(ctx, cfg, runID)
			if err != nil {
				return err
			}
			fmt.Println(renderUploads(uploaded))
			return nil
		},
	}

	cmd.Flags().StringVar(&runID, "run-id", "", "run identifier used as the object key prefix")
	return cmd
}
