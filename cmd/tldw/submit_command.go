package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iamadamzc/TLDW-sub001/internal/pipeline"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var (
		wait      bool
		languages []string
	)

	cmd := &cobra.Command{
		Use:   "submit <video-id-or-url>",
		Short: "Submit a video for transcript acquisition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			payload, err := client.submit(cmd.Context(), args[0], languages, wait)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !wait {
				fmt.Fprintf(out, "Job %s accepted for video %s\n", payload.JobID, payload.VideoID)
				fmt.Fprintf(out, "Poll it with: tldw status %s\n", payload.JobID)
				return nil
			}
			if payload.Transcript == "" {
				return fmt.Errorf("no transcript for %s: %s", payload.VideoID, payload.Error)
			}
			if payload.State != pipeline.StateCached {
				fmt.Fprintf(cmd.ErrOrStderr(), "acquired via %s\n", payload.StageWinner)
			}
			fmt.Fprintln(out, payload.Transcript)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for the transcript instead of returning the job id")
	cmd.Flags().StringSliceVar(&languages, "lang", nil, "preferred caption languages, in order")
	return cmd
}
