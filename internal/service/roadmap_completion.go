package service

import (
	"context"
	"io"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

// CourseCompleter records a course completion upstream.
type CourseCompleter interface {
	CompleteCourse(ctx context.Context, input careerapi.CompleteCourseInput) (careerapi.CompletionRecord, error)
}

// CompleteCourseCommand is the caller input for a completion.
type CompleteCourseCommand struct {
	RoadmapID    string `validate:"required"`
	CourseID     string `validate:"required"`
	Note         string `validate:"max=2000"`
	EvidenceName string `validate:"max=255"`
	Evidence     io.Reader
}

// CompletionRecorder validates evidence and submits completions.
type CompletionRecorder struct {
	api       CourseCompleter
	inspector *EvidenceInspector
	sanitizer *bluemonday.Policy
}

func newCompletionRecorder(api CourseCompleter, inspector *EvidenceInspector, sanitizer *bluemonday.Policy) *CompletionRecorder {
	return &CompletionRecorder{api: api, inspector: inspector, sanitizer: sanitizer}
}

// Record sends the completion. Evidence is inspected before anything is sent.
func (r *CompletionRecorder) Record(ctx context.Context, cmd CompleteCourseCommand) (careerapi.CompletionRecord, error) {
	input := careerapi.CompleteCourseInput{
		RoadmapID: cmd.RoadmapID,
		CourseID:  cmd.CourseID,
		Note:      strings.TrimSpace(r.sanitizer.Sanitize(cmd.Note)),
	}
	if cmd.Evidence != nil {
		upload, err := r.inspector.Inspect(cmd.EvidenceName, cmd.Evidence)
		if err != nil {
			return careerapi.CompletionRecord{}, err
		}
		input.Evidence = upload
	}

	record, err := r.api.CompleteCourse(ctx, input)
	if err != nil {
		return careerapi.CompletionRecord{}, classifyAPIError("complete course", err)
	}
	return record, nil
}
