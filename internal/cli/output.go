package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/service"
)

func (a *app) printJSON(v any) error {
	encoder := json.NewEncoder(a.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

func (a *app) print(snap service.RoadmapSnapshot) error {
	if a.jsonOut {
		return a.printJSON(snap)
	}
	fmt.Fprint(a.out, formatSnapshot(snap))
	return nil
}

func formatSnapshot(snap service.RoadmapSnapshot) string {
	var b strings.Builder

	view := snap.ViewPreference
	if view == "" {
		view = models.ViewMultiPath
	}
	fmt.Fprintf(&b, "Status: %s  View: %s\n", snap.Status, view)
	if snap.FallbackUsed {
		b.WriteString("Suggestions come from the fallback catalogue.\n")
	}
	if len(snap.Suggestions) == 0 {
		b.WriteString("No roadmap suggestions yet. Run \"roadmapctl generate --wait\".\n")
		return b.String()
	}

	if snap.Selected != nil {
		fmt.Fprintf(&b, "%s\n", formatProgress(snap.Progress))
	}

	for _, roadmap := range snap.Suggestions {
		marker := " "
		if roadmap.ID == snap.SelectedRoadmapID {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s  %s\n", marker, roadmap.ID, roadmap.Title)
		if snap.Selected != nil && roadmap.ID != snap.SelectedRoadmapID {
			continue
		}
		for _, course := range roadmap.Courses {
			check := " "
			if course.Completed {
				check = "x"
			}
			title := course.Title
			if title == "" {
				title = course.ID
			}
			line := fmt.Sprintf("    %d. [%s] %s (%s)", course.Order, check, title, course.ID)
			if course.Reconcile == models.ReconcilePending {
				line += " ~syncing"
			}
			if msg, ok := snap.RegenerationErrors[course.Order]; ok {
				line += " ! " + msg
			}
			b.WriteString(line + "\n")
		}
	}
	return b.String()
}

func formatProgress(summary models.ProgressSummary) string {
	source := ""
	if summary.Source != "" {
		source = " [" + summary.Source + "]"
	}
	return fmt.Sprintf("Progress: %d/%d courses (%d%%)%s", summary.CompletedCourses, summary.TotalCourses, summary.Percent, source)
}
