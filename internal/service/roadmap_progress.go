package service

import (
	"math"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

// ComputeProgress derives completion stats from local course flags.
func ComputeProgress(entries []models.CourseProgressEntry) models.ProgressSummary {
	summary := models.ProgressSummary{TotalCourses: len(entries), Source: models.ProgressSourceLocal}
	for _, entry := range entries {
		if entry.Completed {
			summary.CompletedCourses++
		}
	}
	summary.Percent = percentOf(summary.CompletedCourses, summary.TotalCourses)
	return summary
}

// CourseProgress is ComputeProgress over a roadmap's course list.
func CourseProgress(courses []models.RoadmapCourse) models.ProgressSummary {
	entries := make([]models.CourseProgressEntry, 0, len(courses))
	for _, course := range courses {
		entries = append(entries, course.CourseProgressEntry)
	}
	return ComputeProgress(entries)
}

func serverProgress(progress careerapi.Progress) models.ProgressSummary {
	summary := models.ProgressSummary{
		TotalCourses:     progress.TotalCourses,
		CompletedCourses: progress.CompletedCourses,
		Percent:          progress.Percent,
		Source:           models.ProgressSourceServer,
	}
	if summary.Percent == 0 && summary.CompletedCourses > 0 {
		summary.Percent = percentOf(summary.CompletedCourses, summary.TotalCourses)
	}
	return summary
}

func percentOf(completed, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(completed) / float64(total)))
}
