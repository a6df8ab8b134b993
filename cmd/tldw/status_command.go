package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var wait bool

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show daemon status, or one job's progress",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				payload, err := client.job(cmd.Context(), args[0], wait)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Job:    %s\n", payload.JobID)
				fmt.Fprintf(out, "Video:  %s\n", payload.VideoID)
				fmt.Fprintf(out, "State:  %s\n", payload.State)
				if payload.StageWinner != "" {
					fmt.Fprintf(out, "Stage:  %s\n", payload.StageWinner)
				}
				if payload.Error != "" {
					fmt.Fprintf(out, "Error:  %s\n", payload.Error)
				}
				if payload.Transcript != "" {
					fmt.Fprintln(out)
					fmt.Fprintln(out, payload.Transcript)
				}
				return nil
			}

			status, err := client.status(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Daemon running (pid %d)\n", status.PID)
			fmt.Fprintf(out, "Cache: %s\n\n", status.DatabasePath)

			jobRows := make([][]string, 0, len(status.Jobs))
			jobs := status.Jobs
			sort.Slice(jobs, func(i, j int) bool { return jobs[i].SubmittedAt.After(jobs[j].SubmittedAt) })
			for _, job := range jobs {
				jobRows = append(jobRows, []string{
					job.JobID, job.VideoID, string(job.State), job.StageWinner, job.Error,
				})
			}
			if len(jobRows) > 0 {
				fmt.Fprintln(out, renderTable([]string{"Job", "Video", "State", "Stage", "Error"}, jobRows))
			} else {
				fmt.Fprintln(out, "No jobs submitted yet.")
			}

			breakerRows := make([][]string, 0, len(status.Breakers))
			stages := make([]string, 0, len(status.Breakers))
			for stage := range status.Breakers {
				stages = append(stages, stage)
			}
			sort.Strings(stages)
			for _, stage := range stages {
				breakerRows = append(breakerRows, []string{stage, status.Breakers[stage]})
			}
			if len(breakerRows) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Stage", "Breaker"}, breakerRows))
			}

			depRows := make([][]string, 0, len(status.Dependencies))
			for _, dep := range status.Dependencies {
				state := "ok"
				if !dep.Available {
					state = "missing"
					if dep.Optional {
						state = "missing (optional)"
					}
				}
				depRows = append(depRows, []string{dep.Name, dep.Command, state})
			}
			if len(depRows) > 0 {
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable([]string{"Dependency", "Command", "Status"}, depRows))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "block until the job finishes")
	return cmd
}
