package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-roadmap/internal/models"
)

func (a *app) showCmd() *cobra.Command {
	var local bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show suggestions, the selected roadmap and progress",
		Long: `Show the current roadmap. The server copy is fetched first unless --local
is given.

Examples:
  roadmapctl show
  roadmapctl show --local --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if local {
				return a.print(a.svc.Snapshot())
			}
			snap, err := a.svc.Refresh(cmd.Context())
			if err != nil {
				return fmt.Errorf("refresh roadmap: %w", err)
			}
			return a.print(snap)
		},
	}
	cmd.Flags().BoolVar(&local, "local", false, "show the stored state without contacting the server")
	return cmd
}

func (a *app) selectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "select <roadmapId>",
		Short: "Commit to one of the suggested roadmaps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.svc.Select(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if result.Ignored {
				return fmt.Errorf("another selection is still in flight")
			}
			return a.print(a.svc.Snapshot())
		},
	}
}

func (a *app) progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show completion progress of the selected roadmap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.svc.Progress(cmd.Context())
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(summary)
			}
			fmt.Fprintln(a.out, formatProgress(summary))
			return nil
		},
	}
}

func (a *app) viewCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "view <single|multi>",
		Short:     "Choose between the single-path and multi-path layout",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(models.ViewSinglePath), string(models.ViewMultiPath)},
		RunE: func(cmd *cobra.Command, args []string) error {
			view := models.ViewPreference(strings.ToLower(strings.TrimSpace(args[0])))
			snap, err := a.svc.SetViewPreference(cmd.Context(), view)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(snap)
			}
			fmt.Fprintf(a.out, "View set to %s\n", snap.ViewPreference)
			return nil
		},
	}
}

func (a *app) resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Forget suggestions and selection and start onboarding again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.svc.Reset(cmd.Context()); err != nil {
				return err
			}
			if !a.jsonOut {
				fmt.Fprintln(a.out, "Roadmap state cleared.")
				return nil
			}
			return a.printJSON(a.svc.Snapshot())
		},
	}
}
