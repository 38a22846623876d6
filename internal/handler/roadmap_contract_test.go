package handler_test

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/service"
)

func TestRoadmapSnapshotContract(t *testing.T) {
	schemaPath, err := filepath.Abs(filepath.Join("testdata", "roadmap_snapshot.schema.json"))
	require.NoError(t, err)

	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile("file://" + schemaPath)
	require.NoError(t, err)

	completedAt := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	selected := models.Roadmap{ID: "r1", Title: "Backend Engineer", Courses: []models.RoadmapCourse{
		{ID: "go-101", Title: "Go Basics", Order: 1, CourseProgressEntry: models.CourseProgressEntry{Completed: true, CompletedAt: &completedAt}, Reconcile: models.ReconcileConfirmed},
		{ID: "c-2", Title: models.PlaceholderCourseText, Order: 2, Reconcile: models.ReconcilePending},
	}}
	snapshot := service.RoadmapSnapshot{
		SessionKey:         "user:42",
		Version:            7,
		Status:             models.SelectionStatusSelected,
		SelectedRoadmapID:  "r1",
		Suggestions:        []models.Roadmap{selected, {ID: "r2", Courses: []models.RoadmapCourse{}}},
		Selected:           &selected,
		ViewPreference:     models.ViewSinglePath,
		Progress:           models.ProgressSummary{TotalCourses: 2, CompletedCourses: 1, Percent: 50, Source: models.ProgressSourceLocal},
		Generation:         service.PollStatus{Status: service.PollReady, Message: "Your roadmap suggestions are ready", Attempts: 3, ElapsedSeconds: 9},
		RegeneratingOrders: []int{2},
		RegenerationErrors: map[int]string{3: "upstream failed"},
		UpdatedAt:          completedAt,
	}

	app := newRoadmapApp(t, &stubSessions{svc: &stubRoadmapService{snapshot: snapshot}})

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/roadmap", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var payload any
	require.NoError(t, json.Unmarshal(body, &payload))
	require.NoError(t, schema.Validate(payload))
}
