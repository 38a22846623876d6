package careerapi

import (
	"bytes"
	"encoding/json"
	"time"
)

// FlexString decodes JSON strings and numbers alike; ids drift between the two upstream.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// GenerateResult is the response of the generation trigger.
type GenerateResult struct {
	Accepted bool
	Raw      json.RawMessage
}

// Progress is the authoritative aggregate completion stats.
type Progress struct {
	TotalCourses     int `json:"totalCourses"`
	CompletedCourses int `json:"completedCourses"`
	Percent          int `json:"percent"`
}

// CurrentRoadmap is the status payload returned by GET current.
type CurrentRoadmap struct {
	Status             string
	SelectedRoadmapID  string
	FallbackUsed       bool
	CompletedCourseIDs []string
	Progress           *Progress
	// Raw holds the unwrapped payload so suggestion shapes can be normalized by the caller.
	Raw json.RawMessage
}

type currentPayload struct {
	Status            string     `json:"status"`
	SelectedRoadmapID FlexString `json:"selectedRoadmapId"`
	FallbackUsed      bool       `json:"fallbackUsed"`
	GeneratedRoadmaps *struct {
		FallbackUsed bool `json:"fallbackUsed"`
	} `json:"generatedRoadmaps"`
	CompletedCourseIDs []FlexString `json:"completedCourseIds"`
	Progress           *Progress    `json:"progress"`
}

func (p currentPayload) toCurrent(raw json.RawMessage) CurrentRoadmap {
	current := CurrentRoadmap{
		Status:            p.Status,
		SelectedRoadmapID: string(p.SelectedRoadmapID),
		FallbackUsed:      p.FallbackUsed,
		Progress:          p.Progress,
		Raw:               raw,
	}
	if p.GeneratedRoadmaps != nil && p.GeneratedRoadmaps.FallbackUsed {
		current.FallbackUsed = true
	}
	for _, id := range p.CompletedCourseIDs {
		if id != "" {
			current.CompletedCourseIDs = append(current.CompletedCourseIDs, string(id))
		}
	}
	return current
}

// SelectResult is the response of POST select.
type SelectResult struct {
	SelectedRoadmapID string
}

type selectPayload struct {
	SelectedRoadmapID FlexString `json:"selectedRoadmapId"`
	RoadmapID         FlexString `json:"roadmapId"`
}

// RegenerateCourseInput addresses one course slot of a roadmap.
type RegenerateCourseInput struct {
	RoadmapID string `json:"roadmapId"`
	Order     int    `json:"order"`
	Reason    string `json:"reason,omitempty"`
}

// RegenerateCourseResult reports the replacement course.
type RegenerateCourseResult struct {
	Order       int
	NewCourseID string
	AIUsed      bool
}

type regeneratePayload struct {
	Order       int        `json:"order"`
	NewCourseID FlexString `json:"newCourseId"`
	CourseID    FlexString `json:"courseId"`
	AIUsed      bool       `json:"aiUsed"`
}

// EvidenceUpload is an optional binary attachment for course completion.
type EvidenceUpload struct {
	Filename string
	MimeType string
	Content  []byte
}

// CompleteCourseInput is sent as multipart form data.
type CompleteCourseInput struct {
	RoadmapID string
	CourseID  string
	Note      string
	Evidence  *EvidenceUpload
}

// EvidenceFile is evidence metadata echoed back by the server.
type EvidenceFile struct {
	Filename string `json:"filename"`
	URL      string `json:"url,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// CompletionRecord is the server acknowledgement of a completed course.
type CompletionRecord struct {
	RoadmapID     FlexString     `json:"roadmapId"`
	CourseID      FlexString     `json:"courseId"`
	Completed     bool           `json:"completed"`
	CompletedAt   *time.Time     `json:"completedAt,omitempty"`
	Note          string         `json:"note,omitempty"`
	EvidenceFiles []EvidenceFile `json:"evidenceFiles,omitempty"`
}

// CourseDetail is the course lookup used to enrich roadmap steps.
type CourseDetail struct {
	ID            FlexString `json:"id"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Category      string     `json:"category"`
	Instructor    string     `json:"instructor"`
	DurationWeeks int        `json:"durationWeeks"`
}

type envelope struct {
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
}

// unwrap strips the optional {data: ...} envelope.
func unwrap(body []byte) json.RawMessage {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		trimmed := bytes.TrimSpace(env.Data)
		if len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null")) {
			return env.Data
		}
	}
	return body
}

func errorMessage(body []byte) string {
	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		if env.Message != "" {
			return env.Message
		}
		if env.Error != "" {
			return env.Error
		}
	}
	text := string(bytes.TrimSpace(body))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
