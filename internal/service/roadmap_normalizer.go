package service

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/noah-isme/gema-roadmap/internal/models"
)

// suggestionShape extracts the raw suggestion list from one historical payload layout.
type suggestionShape struct {
	name  string
	match func(root map[string]any) []any
}

// suggestionShapes are tried in priority order; the first non-empty match wins.
var suggestionShapes = []suggestionShape{
	{name: "roadmaps", match: arrayAt("roadmaps")},
	{name: "generatedRoadmaps.suggestions", match: arrayAt("generatedRoadmaps", "suggestions")},
	{name: "suggestions", match: arrayAt("suggestions")},
	{name: "generatedRoadmaps", match: arrayAt("generatedRoadmaps")},
	{name: "data.roadmaps", match: arrayAt("data", "roadmaps")},
	{name: "data.generatedRoadmaps.suggestions", match: arrayAt("data", "generatedRoadmaps", "suggestions")},
	{name: "data.suggestions", match: arrayAt("data", "suggestions")},
	{name: "data", match: arrayAt("data")},
	{name: "data.data.generatedRoadmaps.suggestions", match: arrayAt("data", "data", "generatedRoadmaps", "suggestions")},
}

var (
	detailedCourseKeys = []string{"detailedCourses", "coursesDetailed", "courseDetails", "populatedCourses"}
	minimalCourseKeys  = []string{"courses", "courseIds"}
)

// NormalizeSuggestions converts any known suggestion payload into canonical roadmaps.
// Unrecognized, empty or malformed input yields an empty list.
func NormalizeSuggestions(raw any) []models.Roadmap {
	items := suggestionItems(decodeLoose(raw))
	roadmaps := make([]models.Roadmap, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if roadmap, ok := normalizeRoadmap(obj, i+1); ok {
			roadmaps = append(roadmaps, roadmap)
		}
	}
	return roadmaps
}

// NormalizeSuggestionsJSON is NormalizeSuggestions over an encoded payload.
func NormalizeSuggestionsJSON(data []byte) []models.Roadmap {
	if len(data) == 0 {
		return []models.Roadmap{}
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return []models.Roadmap{}
	}
	return NormalizeSuggestions(raw)
}

func decodeLoose(raw any) any {
	switch v := raw.(type) {
	case nil:
		return nil
	case map[string]any, []any:
		return v
	case json.RawMessage:
		return decodeBytes(v)
	case []byte:
		return decodeBytes(v)
	case string:
		return decodeBytes([]byte(v))
	default:
		// Typed values (structs, typed slices) are re-read through their JSON form.
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return decodeBytes(encoded)
	}
}

func decodeBytes(data []byte) any {
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	return out
}

func suggestionItems(root any) []any {
	switch v := root.(type) {
	case []any:
		return v
	case map[string]any:
		for _, shape := range suggestionShapes {
			if items := shape.match(v); len(items) > 0 {
				return items
			}
		}
	}
	return nil
}

func arrayAt(path ...string) func(map[string]any) []any {
	return func(root map[string]any) []any {
		var current any = root
		for _, key := range path {
			obj, ok := current.(map[string]any)
			if !ok {
				return nil
			}
			current = obj[key]
		}
		items, _ := current.([]any)
		return items
	}
}

func normalizeRoadmap(obj map[string]any, index int) (models.Roadmap, bool) {
	id := scalarString(obj, "id", "_id", "roadmapId")
	title := textField(obj, "title", "name")

	rawCourses := firstArray(obj, detailedCourseKeys...)
	if len(rawCourses) == 0 {
		rawCourses = firstArray(obj, minimalCourseKeys...)
	}

	if id == "" && title == "" && len(rawCourses) == 0 {
		return models.Roadmap{}, false
	}
	if id == "" {
		id = "r-" + strconv.Itoa(index)
	}
	if title == "" {
		title = "Roadmap " + strconv.Itoa(index)
	}

	courses := make([]models.RoadmapCourse, 0, len(rawCourses))
	for i, entry := range rawCourses {
		if course, ok := normalizeCourse(entry, i+1); ok {
			courses = append(courses, course)
		}
	}
	sort.SliceStable(courses, func(i, j int) bool { return courses[i].Order < courses[j].Order })

	return models.Roadmap{
		ID:         id,
		Title:      title,
		Summary:    textField(obj, "summary", "description"),
		SkillFocus: textField(obj, "skillFocus", "skill_focus", "focus", "focusArea"),
		Courses:    courses,
	}, true
}

func normalizeCourse(entry any, position int) (models.RoadmapCourse, bool) {
	var obj map[string]any
	switch v := entry.(type) {
	case map[string]any:
		obj = v
	case string, float64, json.Number:
		id := scalarToString(v)
		if id == "" {
			id = "c-" + strconv.Itoa(position)
		}
		return models.RoadmapCourse{ID: id, Order: position, Reconcile: models.ReconcileConfirmed}, true
	default:
		return models.RoadmapCourse{}, false
	}

	nested := firstObject(obj, "course", "courseId", "courseDetail")

	id := scalarString(nested, "id", "_id", "courseId")
	if id == "" {
		id = scalarString(obj, "courseId", "course")
	}
	if id == "" {
		id = scalarString(obj, "id", "_id")
	}
	if id == "" {
		id = "c-" + strconv.Itoa(position)
	}

	order := positiveInt(obj, "order", "position", "sequence")
	if order == 0 {
		order = positiveInt(nested, "order", "position", "sequence")
	}
	if order == 0 {
		order = position
	}

	course := models.RoadmapCourse{
		ID:            id,
		Title:         firstText(obj, nested, "title", "name"),
		Description:   firstText(obj, nested, "description", "summary"),
		Category:      firstText(obj, nested, "category", "categoryName"),
		Instructor:    firstText(obj, nested, "instructor", "instructorName"),
		DurationWeeks: positiveInt(obj, "durationWeeks", "duration_weeks", "weeks"),
		Order:         order,
		Reconcile:     models.ReconcileConfirmed,
	}
	if course.DurationWeeks == 0 {
		course.DurationWeeks = positiveInt(nested, "durationWeeks", "duration_weeks", "weeks", "duration")
	}

	course.Completed = boolField(obj, "completed", "isCompleted")
	if at := timeField(obj, "completedAt", "completed_at"); at != nil {
		course.CompletedAt = at
		course.Completed = true
	}
	course.EvidenceFiles = evidenceFiles(firstArray(obj, "evidenceFiles", "evidence"))

	return course, true
}

func evidenceFiles(items []any) []models.EvidenceFile {
	if len(items) == 0 {
		return nil
	}
	files := make([]models.EvidenceFile, 0, len(items))
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		file := models.EvidenceFile{
			Filename: textField(obj, "filename", "name", "originalName"),
			URL:      textField(obj, "url", "secureUrl"),
			MimeType: textField(obj, "mimeType", "mimetype", "contentType"),
			Size:     int64(positiveInt(obj, "size", "sizeBytes")),
		}
		if file.Filename == "" && file.URL == "" {
			continue
		}
		files = append(files, file)
	}
	return files
}

func firstArray(obj map[string]any, keys ...string) []any {
	for _, key := range keys {
		if items, ok := obj[key].([]any); ok && len(items) > 0 {
			return items
		}
	}
	return nil
}

func firstObject(obj map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if nested, ok := obj[key].(map[string]any); ok {
			return nested
		}
	}
	return nil
}

// textField reads a string, or the "name"/"title" of a nested object.
func textField(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				return trimmed
			}
		case map[string]any:
			if name := textField(v, "name", "title", "fullName"); name != "" {
				return name
			}
		}
	}
	return ""
}

func firstText(primary, fallback map[string]any, keys ...string) string {
	if value := textField(primary, keys...); value != "" {
		return value
	}
	return textField(fallback, keys...)
}

func scalarString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		if value := scalarToString(obj[key]); value != "" {
			return value
		}
	}
	return ""
}

func scalarToString(value any) string {
	switch v := value.(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func positiveInt(obj map[string]any, keys ...string) int {
	for _, key := range keys {
		var n float64
		switch v := obj[key].(type) {
		case float64:
			n = v
		case json.Number:
			parsed, err := v.Float64()
			if err != nil {
				continue
			}
			n = parsed
		case string:
			parsed, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				continue
			}
			n = parsed
		default:
			continue
		}
		if n >= 1 {
			return int(n)
		}
	}
	return 0
}

func boolField(obj map[string]any, keys ...string) bool {
	for _, key := range keys {
		if v, ok := obj[key].(bool); ok {
			return v
		}
	}
	return false
}

func timeField(obj map[string]any, keys ...string) *time.Time {
	for _, key := range keys {
		raw, ok := obj[key].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			continue
		}
		if parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(raw)); err == nil {
			return &parsed
		}
	}
	return nil
}
