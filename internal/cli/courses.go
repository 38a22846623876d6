package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/noah-isme/gema-roadmap/internal/service"
)

func (a *app) regenerateCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "regenerate <roadmapId> <order>",
		Short: "Replace one course of the selected roadmap",
		Long: `Ask the career API to replace the course at the given order.

Examples:
  roadmapctl regenerate 12 3
  roadmapctl regenerate 12 3 --reason "already know this"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			order, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("%w: order must be a number", service.ErrInvalidArgument)
			}
			result, err := a.svc.RegenerateCourse(cmd.Context(), service.RegenerateCourseCommand{
				RoadmapID: args[0],
				Order:     order,
				Reason:    reason,
			})
			if err != nil {
				return err
			}
			if !a.jsonOut {
				fmt.Fprintf(a.out, "Course %d replaced by %s (ai: %t)\n", result.Order, result.NewCourseID, result.AIUsed)
			}
			return a.print(a.reconcile(cmd.Context()))
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "why the course should be replaced")
	return cmd
}

func (a *app) completeCmd() *cobra.Command {
	var note, evidence string
	cmd := &cobra.Command{
		Use:   "complete <roadmapId> <courseId>",
		Short: "Mark a course of the selected roadmap as completed",
		Long: `Record a course completion with an optional note and evidence file
(image, PDF, zip or plain text).

Examples:
  roadmapctl complete 12 go-101
  roadmapctl complete 12 go-101 --note "finished" --evidence certificate.pdf`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := service.CompleteCourseCommand{
				RoadmapID: args[0],
				CourseID:  args[1],
				Note:      note,
			}
			if evidence != "" {
				file, err := os.Open(evidence)
				if err != nil {
					return fmt.Errorf("open evidence: %w", err)
				}
				defer file.Close()
				command.Evidence = file
				command.EvidenceName = filepath.Base(evidence)
			}

			result, err := a.svc.CompleteCourse(cmd.Context(), command)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(result)
			}
			fmt.Fprintf(a.out, "Completed course %d (%s). %s\n", result.Order, result.CourseID, formatProgress(result.Progress))
			return nil
		},
	}
	cmd.Flags().StringVarP(&note, "note", "n", "", "completion note")
	cmd.Flags().StringVarP(&evidence, "evidence", "e", "", "path to an evidence file")
	return cmd
}
