package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/strongdm/aisen-telemetry/pkg/aisen"
	"github.com/strongdm/aisen-telemetry/pkg/aisen/sinks/stderr"
)

func (a *app) newSendTestCmd() *cobra.Command {
	var (
		message string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "send-test",
		Short: "Send a test message and exception, then flush",
		RunE: func(cmd *cobra.Command, args []string) error {
			var sink aisen.Sink
			if dryRun {
				sink = stderr.NewStderrSink(stderr.WithWriter(cmd.OutOrStdout()))
			}
			client, err := a.newClient(sink, nil)
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			msgID := client.CaptureMessage(ctx, message, aisen.SeverityInfo)
			errID := client.CaptureException(ctx, errors.New("aisenctl test exception"),
				aisen.WithAttributes(map[string]any{"aisenctl.command": "send-test"}))

			flushErr := client.Flush(ctx)
			closeErr := client.Close(ctx)
			if err := errors.Join(flushErr, closeErr); err != nil {
				return fmt.Errorf("failed to deliver test events: %w", err)
			}

			stats := client.Stats()
			a.logger.Debug("Test events delivered",
				zap.String("message_id", msgID),
				zap.String("exception_id", errID),
				zap.Uint64("events_sent", stats.EventsSent))
			fmt.Fprintf(cmd.OutOrStdout(), "Sent %d events (message %s, exception %s)\n", stats.EventsSent, msgID, errID)
			return nil
		},
	}
	cmd.Flags().StringVar(&message, "message", "aisenctl test message", "Message text")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Print events instead of delivering them")
	return cmd
}

func (a *app) newSimulateCmd() *cobra.Command {
	var (
		name      string
		failures  int
		successes int
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Record failures then successes for a task and print the resulting events",
		RunE: func(cmd *cobra.Command, args []string) error {
			if failures < 0 || successes < 0 {
				return errors.New("--failures and --successes must not be negative")
			}
			sink := stderr.NewStderrSink(stderr.WithWriter(cmd.OutOrStdout()))
			client, err := a.newClient(sink, func(o *aisen.Options) {
				o.FlushInterval = time.Hour
			})
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			desc := aisen.TaskOperation(name)
			for i := 0; i < failures; i++ {
				client.RecordOperation(ctx, aisen.Operation{
					Descriptor: desc,
					Err:        fmt.Errorf("simulated failure %d", i+1),
				})
			}
			for i := 0; i < successes; i++ {
				client.RecordOperation(ctx, aisen.Operation{Descriptor: desc, Success: true})
			}

			if err := client.Close(ctx); err != nil {
				return err
			}
			stats := client.Stats()
			fmt.Fprintf(cmd.OutOrStdout(), "incidents opened=%d resolved=%d open=%d\n",
				stats.IncidentsOpened, stats.IncidentsResolved, stats.OpenIncidents)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "aisenctl-simulated-task", "Task name used for the fingerprint")
	cmd.Flags().IntVar(&failures, "failures", 1, "Number of failures to record")
	cmd.Flags().IntVar(&successes, "successes", aisen.DefaultResolutionThreshold, "Number of successes to record afterwards")
	return cmd
}

func (a *app) newConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the resolved configuration with credentials redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := json.MarshalIndent(a.cfg.Redacted(), "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
