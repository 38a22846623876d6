package models

import (
	"time"

	"gorm.io/datatypes"
)

// SelectionStatus tracks where a session sits in the roadmap lifecycle.
type SelectionStatus string

const (
	SelectionStatusNone      SelectionStatus = "none"
	SelectionStatusGenerated SelectionStatus = "generated"
	SelectionStatusSelected  SelectionStatus = "selected"
)

// ReconcileState tags course entries that were mutated locally ahead of the server.
type ReconcileState string

const (
	ReconcileConfirmed ReconcileState = "confirmed"
	ReconcilePending   ReconcileState = "pending_reconciliation"
)

// ViewPreference is the user's roadmap layout choice.
type ViewPreference string

const (
	ViewSinglePath ViewPreference = "single"
	ViewMultiPath  ViewPreference = "multi"
)

// PlaceholderCourseText is shown on a regenerated course until a refresh lands.
const PlaceholderCourseText = "Updating..."

// EvidenceFile describes an artefact attached to a completed course.
type EvidenceFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// CourseProgressEntry carries completion data for one roadmap step.
type CourseProgressEntry struct {
	Completed     bool           `json:"completed"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	EvidenceFiles []EvidenceFile `json:"evidenceFiles,omitempty"`
}

// RoadmapCourse is one ordered step of a roadmap.
type RoadmapCourse struct {
	ID            string `json:"id"`
	Title         string `json:"title,omitempty"`
	Description   string `json:"description,omitempty"`
	Category      string `json:"category,omitempty"`
	Instructor    string `json:"instructor,omitempty"`
	DurationWeeks int    `json:"durationWeeks,omitempty"`
	Order         int    `json:"order"`
	CourseProgressEntry
	Reconcile ReconcileState `json:"reconcile,omitempty"`
}

// Roadmap is a candidate learning path.
type Roadmap struct {
	ID         string          `json:"id"`
	Title      string          `json:"title,omitempty"`
	Summary    string          `json:"summary,omitempty"`
	SkillFocus string          `json:"skillFocus,omitempty"`
	Courses    []RoadmapCourse `json:"courses"`
}

// CourseByOrder returns the index of the course at the given order.
func (r Roadmap) CourseByOrder(order int) (int, bool) {
	for i := range r.Courses {
		if r.Courses[i].Order == order {
			return i, true
		}
	}
	return -1, false
}

// CourseByID returns the index of the first course with the given id.
func (r Roadmap) CourseByID(id string) (int, bool) {
	for i := range r.Courses {
		if r.Courses[i].ID == id {
			return i, true
		}
	}
	return -1, false
}

// Clone deep-copies the roadmap so snapshots never alias orchestrator state.
func (r Roadmap) Clone() Roadmap {
	out := r
	out.Courses = make([]RoadmapCourse, len(r.Courses))
	for i, course := range r.Courses {
		if course.CompletedAt != nil {
			at := *course.CompletedAt
			course.CompletedAt = &at
		}
		course.EvidenceFiles = append([]EvidenceFile(nil), course.EvidenceFiles...)
		out.Courses[i] = course
	}
	return out
}

// RoadmapSelectionState is the per-session roadmap state owned by the orchestrator.
type RoadmapSelectionState struct {
	Status            SelectionStatus `json:"status"`
	SelectedRoadmapID string          `json:"selectedRoadmapId,omitempty"`
	Suggestions       []Roadmap       `json:"suggestions"`
	FallbackUsed      bool            `json:"fallbackUsed"`
	ViewPreference    ViewPreference  `json:"viewPreference,omitempty"`
}

// SelectedRoadmap returns the suggestion matching SelectedRoadmapID.
func (s RoadmapSelectionState) SelectedRoadmap() (int, bool) {
	if s.Status != SelectionStatusSelected || s.SelectedRoadmapID == "" {
		return -1, false
	}
	for i := range s.Suggestions {
		if s.Suggestions[i].ID == s.SelectedRoadmapID {
			return i, true
		}
	}
	return -1, false
}

// Clone deep-copies the state.
func (s RoadmapSelectionState) Clone() RoadmapSelectionState {
	out := s
	out.Suggestions = make([]Roadmap, len(s.Suggestions))
	for i, roadmap := range s.Suggestions {
		out.Suggestions[i] = roadmap.Clone()
	}
	return out
}

// ProgressSummary is derived completion data for the selected roadmap.
type ProgressSummary struct {
	TotalCourses     int    `json:"totalCourses"`
	CompletedCourses int    `json:"completedCourses"`
	Percent          int    `json:"percent"`
	Source           string `json:"source"`
}

// Progress sources.
const (
	ProgressSourceLocal  = "local"
	ProgressSourceServer = "server"
)

// RoadmapSessionState is the persisted row for a session's roadmap state.
type RoadmapSessionState struct {
	SessionKey string         `gorm:"primaryKey;size:191"`
	Payload    datatypes.JSON `gorm:"type:json"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// TableName pins the table name.
func (RoadmapSessionState) TableName() string {
	return "roadmap_session_states"
}
