package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-roadmap/internal/service"
)

func (a *app) generateCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Ask the career API for roadmap suggestions",
		Long: `Trigger roadmap generation and poll until suggestions appear.

Without --wait the command returns after the first poll; generation keeps
running on the server and "roadmapctl show" picks the result up later.

Examples:
  roadmapctl generate --wait
  roadmapctl generate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGeneration(cmd.Context(), wait, a.svc.StartGeneration)
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "poll until suggestions are ready or the timeout expires")
	return cmd
}

func (a *app) retryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retry",
		Short: "Resume polling after a generation timeout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runGeneration(cmd.Context(), true, a.svc.RetryGeneration)
		},
	}
}

func (a *app) runGeneration(ctx context.Context, wait bool, start func(context.Context) (service.RoadmapSnapshot, error)) error {
	updates, unsubscribe := a.svc.Subscribe()
	defer unsubscribe()

	if _, err := start(ctx); err != nil {
		return err
	}
	if !a.jsonOut {
		fmt.Fprintf(a.out, "Generating roadmap suggestions (timeout %s)\n", a.cfg.PollTimeout)
	}

	lastAttempt := 0
	for {
		select {
		case <-ctx.Done():
			a.svc.StopGeneration()
			return ctx.Err()
		case snap, open := <-updates:
			if !open {
				return nil
			}
			status := snap.Generation
			if status.Attempts > lastAttempt {
				lastAttempt = status.Attempts
				a.logger.Debug().Int("attempt", status.Attempts).Int("elapsed_s", status.ElapsedSeconds).Str("error", status.Error).Msg("poll")
				if !a.jsonOut {
					fmt.Fprintf(a.out, "  poll %d (%ds): %s\n", status.Attempts, status.ElapsedSeconds, status.Message)
				}
			}

			switch status.Status {
			case service.PollReady:
				return a.print(snap)
			case service.PollTimedOut:
				return fmt.Errorf("%w: run \"roadmapctl retry\" to keep waiting", service.ErrGenerationTimeout)
			}

			if !wait && status.Attempts >= 1 {
				a.svc.StopGeneration()
				if !a.jsonOut {
					fmt.Fprintln(a.out, "Generation requested; run \"roadmapctl show\" later or \"generate --wait\".")
				}
				return nil
			}
		}
	}
}
