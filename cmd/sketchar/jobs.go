package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/mattjoyce/sketchar/internal/jobs"
	"github.com/mattjoyce/sketchar/internal/storage"
)

func newJobsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect the generation job log",
	}
	cmd.AddCommand(newJobsListCommand(configPath), newJobsShowCommand(configPath))
	return cmd
}

func newJobsListCommand(configPath *string) *cobra.Command {
	var (
		limit   int
		jsonOut bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobStore(cmd.Context(), *configPath, func(store *jobs.Store) error {
				list, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				return writeJobTable(cmd.OutOrStdout(), list)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of jobs to show")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func newJobsShowCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job, including captured backend output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobStore(cmd.Context(), *configPath, func(store *jobs.Store) error {
				job, err := store.Get(cmd.Context(), args[0])
				if errors.Is(err, jobs.ErrJobNotFound) {
					return fmt.Errorf("job %s not found", args[0])
				}
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), job)
			})
		},
	}
}

func withJobStore(ctx context.Context, configPath string, fn func(*jobs.Store) error) error {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	db, err := storage.OpenSQLite(ctx, cfg.State.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	return fn(jobs.New(db))
}

func writeJobTable(w io.Writer, list []*jobs.Job) error {
	if len(list) == 0 {
		_, err := fmt.Fprintln(w, "No jobs recorded.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tBACKEND\tSTATUS\tCREATED\tDURATION\tERROR")
	for _, j := range list {
		duration := "-"
		if d := j.Duration(); d > 0 {
			duration = d.Round(time.Millisecond).String()
		}
		errKind := "-"
		if j.ErrorKind != nil {
			errKind = *j.ErrorKind
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			j.ID, j.Backend, j.Status, j.CreatedAt.Local().Format(time.DateTime), duration, errKind)
	}
	return tw.Flush()
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
