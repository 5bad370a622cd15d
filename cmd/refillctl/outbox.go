package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/projectrefill/refill-backend/pkg/outbox"
)

const defaultOutboxMaxAttempts = 10

func newOutboxCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outbox",
		Short: "Inspect the outbox backlog and its dead-letter queue",
	}
	dlq := &cobra.Command{
		Use:   "dlq",
		Short: "Manage dead-lettered outbox events",
	}
	dlq.AddCommand(newDLQListCmd(open), newDLQShowCmd(open), newDLQRequeueCmd(open))
	cmd.AddCommand(newOutboxStatusCmd(open), dlq)
	return cmd
}

func newOutboxStatusCmd(open opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize unpublished and dead-lettered events",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			maxAttempts := rt.cfg.Outbox.MaxAttempts
			if maxAttempts <= 0 {
				maxAttempts = defaultOutboxMaxAttempts
			}
			backlog, err := outbox.NewRepository(rt.db.DB()).Backlog(cmd.Context(), maxAttempts)
			if err != nil {
				return fmt.Errorf("read outbox backlog: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), backlog)
			}
			oldest := "-"
			if backlog.OldestAt != nil {
				oldest = backlog.OldestAt.Format(time.RFC3339)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "pending\t%d\n", backlog.Pending)
			fmt.Fprintf(tw, "retrying\t%d\n", backlog.Retrying)
			fmt.Fprintf(tw, "exhausted\t%d\n", backlog.Exhausted)
			fmt.Fprintf(tw, "dead-lettered\t%d\n", backlog.DeadLetter)
			fmt.Fprintf(tw, "oldest pending\t%s\n", oldest)
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the summary as JSON")
	return cmd
}

func newDLQListCmd(open opener) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List dead-lettered events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			rows, err := outbox.NewDLQRepository(rt.db.DB()).List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "EVENT\tTYPE\tREASON\tATTEMPTS\tFAILED AT")
			for _, row := range rows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
					row.EventID, row.EventType, row.ErrorReason, row.AttemptCount, row.FailedAt.UTC().Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows to list (default 50, max 500)")
	return cmd
}

func newDLQShowCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "show <event-id>",
		Short: "Print one dead-lettered event with its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			entry, err := outbox.NewDLQRepository(rt.db.DB()).Get(cmd.Context(), eventID)
			if err != nil {
				return err
			}
			if entry == nil {
				return fmt.Errorf("event %s: %w", eventID, outbox.ErrNotDeadLettered)
			}
			return writeJSON(cmd.OutOrStdout(), entry)
		},
	}
}

func newDLQRequeueCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <event-id>",
		Short: "Return a dead-lettered event to the publisher with fresh attempts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid event id %q: %w", args[0], err)
			}
			rt, err := open(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.close()

			err = outbox.NewDLQRepository(rt.db.DB()).Requeue(cmd.Context(), eventID)
			if errors.Is(err, outbox.ErrNotDeadLettered) {
				return fmt.Errorf("event %s: %w", eventID, err)
			}
			if err != nil {
				return err
			}
			rt.logg.Info(rt.logg.WithField(cmd.Context(), "event_id", eventID.String()), "outbox event requeued")
			fmt.Fprintf(cmd.OutOrStdout(), "requeued %s\n", eventID)
			return nil
		},
	}
}
