package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"mediaqueue/internal/domain"
	"mediaqueue/internal/scheduler"
)

// skipStore marks commands that must not open a session.
const skipStore = "skip-store"

type cli struct {
	out     io.Writer
	open    func(ctx context.Context) (*session, error)
	migrate func(ctx context.Context) error
	sess    *session
}

func (c *cli) root() *cobra.Command {
	root := &cobra.Command{
		Use:          "jobctl",
		Short:        "Inspect and operate the media job queue",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[skipStore] != "" || c.sess != nil {
				return nil
			}
			sess, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			c.sess = sess
			return nil
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if c.sess != nil && c.sess.close != nil {
				c.sess.close()
			}
		},
	}
	root.AddCommand(
		c.migrateCmd(),
		c.enqueueCmd(),
		c.statusCmd(),
		c.cancelCmd(),
		c.listCmd(),
		c.statsCmd(),
		c.reapCmd(),
		c.pruneCmd(),
	)
	return root
}

func (c *cli) migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:         "migrate",
		Short:       "Apply pending schema migrations",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{skipStore: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := c.migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(c.out, "migrations applied")
			return nil
		},
	}
}

func (c *cli) enqueueCmd() *cobra.Command {
	var (
		req         domain.EnqueueRequest
		payload     string
		priority    int
		maxAttempts int
		at          string
	)
	cmd := &cobra.Command{
		Use:   "enqueue <job_type>",
		Short: "Queue a job, or report the equivalent active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := domain.ParseJobType(args[0])
			if err != nil {
				return err
			}
			req.Type = t
			if payload != "" {
				if !json.Valid([]byte(payload)) {
					return fmt.Errorf("--payload is not valid JSON")
				}
				req.Payload = json.RawMessage(payload)
			}
			if cmd.Flags().Changed("priority") {
				req.Priority = &priority
			}
			if cmd.Flags().Changed("max-attempts") {
				req.MaxAttempts = &maxAttempts
			}
			if at != "" {
				ts, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				req.ScheduledAt = &ts
			}

			res, err := c.sess.svc.Enqueue(cmd.Context(), req)
			if err != nil {
				return err
			}
			verb := "created"
			if !res.Created {
				verb = "existing"
			}
			fmt.Fprintf(c.out, "%s %s\n", verb, res.JobID)
			if res.Superseded > 0 {
				fmt.Fprintf(c.out, "superseded %d active job(s)\n", res.Superseded)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.TargetKey, "target", "", "file path the job operates on")
	f.StringVar(&req.OwnerKey, "owner", "", "user or library the job belongs to")
	f.StringVar(&payload, "payload", "", "job payload as a JSON object")
	f.IntVar(&priority, "priority", 0, "override the type's priority (lower runs first)")
	f.IntVar(&maxAttempts, "max-attempts", 0, "override the type's attempt budget")
	f.StringVar(&at, "at", "", "earliest start time (RFC 3339)")
	return cmd
}

func (c *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job_id>",
		Short: "Print one job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := c.sess.svc.GetStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			row := func(k string, v any) { fmt.Fprintf(w, "%s\t%v\n", k, v) }
			row("id", job.ID)
			row("type", job.Type)
			row("status", job.Status)
			row("priority", job.Priority)
			row("attempts", fmt.Sprintf("%d/%d", job.Attempts, job.MaxAttempts))
			row("deferrals", job.DependencyAttempts)
			optional := map[string]string{
				"target":     job.TargetKey,
				"owner_key":  job.OwnerKey,
				"owner":      job.Owner,
				"last_error": job.LastError,
			}
			for _, k := range []string{"target", "owner_key", "owner", "last_error"} {
				if optional[k] != "" {
					row(k, optional[k])
				}
			}
			row("created", job.CreatedAt.Format(time.RFC3339))
			row("scheduled", job.ScheduledAt.Format(time.RFC3339))
			if job.FinishedAt != nil {
				row("finished", job.FinishedAt.Format(time.RFC3339))
			}
			if len(job.Payload) > 0 {
				row("payload", string(job.Payload))
			}
			return w.Flush()
		},
	}
}

func (c *cli) cancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job_id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := c.sess.svc.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if ok {
				fmt.Fprintf(c.out, "cancelled %s\n", args[0])
			} else {
				fmt.Fprintf(c.out, "%s is already finished\n", args[0])
			}
			return nil
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	var status, jobType, owner, target string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, most recent first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := domain.JobFilter{OwnerKey: owner, TargetKey: domain.NormalizeTargetKey(target), Limit: limit}
			if status != "" {
				s, err := domain.ParseJobStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}
			if jobType != "" {
				t, err := domain.ParseJobType(jobType)
				if err != nil {
					return err
				}
				filter.Type = t
			}
			jobs, err := c.sess.svc.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tTARGET\tLAST ERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
					j.ID, j.Type, j.Status, j.Attempts, j.MaxAttempts, j.TargetKey, oneLine(j.LastError))
			}
			return w.Flush()
		},
	}
	f := cmd.Flags()
	f.StringVar(&status, "status", "", "queued, running, done, failed or cancelled")
	f.StringVar(&jobType, "type", "", "job type")
	f.StringVar(&owner, "owner", "", "owner key")
	f.StringVar(&target, "target", "", "target key")
	f.IntVar(&limit, "limit", 50, "maximum rows")
	return cmd
}

func (c *cli) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Count jobs per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			counts, err := c.sess.svc.Stats(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
			for _, s := range domain.AllJobStatuses() {
				fmt.Fprintf(w, "%s\t%d\n", s, counts[s])
			}
			return w.Flush()
		},
	}
}

func (c *cli) reapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reap",
		Short: "Run one reaper sweep over stale running jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reaper := scheduler.NewReaper(c.sess.svc, 0, c.sess.scheduler.ReaperBatchSize)
			res, err := reaper.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "requeued=%d failed=%d skipped=%d\n", res.Requeued, res.Failed, res.Skipped)
			return nil
		},
	}
}

func (c *cli) pruneCmd() *cobra.Command {
	var done, failed time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished jobs past their retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			retention := scheduler.Retention{Done: c.sess.scheduler.RetentionDone, Failed: c.sess.scheduler.RetentionFailed}
			if cmd.Flags().Changed("done") {
				retention.Done = done
			}
			if cmd.Flags().Changed("failed") {
				retention.Failed = failed
			}
			n, err := scheduler.NewPruner(c.sess.svc, retention, 0).Prune(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "deleted %d job(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&done, "done", 0, "retention for done and cancelled jobs (default from RETENTION_DONE_HOURS)")
	cmd.Flags().DurationVar(&failed, "failed", 0, "retention for failed jobs (default from RETENTION_FAILED_HOURS)")
	return cmd
}

func oneLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 60 {
		s = s[:57] + "..."
	}
	return s
}
