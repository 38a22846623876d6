package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/service"
)

const suggestionsPayload = `"generatedRoadmaps":{"fallbackUsed":false,"suggestions":[
  {"id":"r1","title":"Backend Engineer","courses":[
    {"courseId":"go-101","order":1,"title":"Go Basics","description":"Types and goroutines"},
    {"courseId":"sql-101","order":2,"title":"SQL","description":"Queries"},
    {"courseId":"http-101","order":3,"title":"HTTP","description":"Servers"},
    {"courseId":"ops-101","order":4,"title":"Ops","description":"Deploys"}]},
  {"id":"r2","title":"Frontend Engineer","courses":[{"courseId":"css-101","order":1,"title":"CSS","description":"Layout"}]}]}`

type fakeCareerAPI struct {
	mu             sync.Mutex
	pendingPolls   int
	alwaysPending  bool
	selected       string
	completedNotes []string
}

func (f *fakeCareerAPI) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		f.mu.Lock()
		defer f.mu.Unlock()

		switch r.URL.Path {
		case "/api/roadmap/generate":
			w.WriteHeader(http.StatusAccepted)
		case "/api/roadmap/current":
			if f.alwaysPending || f.pendingPolls > 0 {
				f.pendingPolls--
				_, _ = io.WriteString(w, `{"data":{"status":"pending"}}`)
				return
			}
			selected := ""
			if f.selected != "" {
				selected = `"selectedRoadmapId":"` + f.selected + `",`
			}
			_, _ = io.WriteString(w, `{"data":{"status":"generated",`+selected+suggestionsPayload+`}}`)
		case "/api/roadmap/select":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			f.selected = body["roadmapId"]
			_, _ = io.WriteString(w, `{"data":{"selectedRoadmapId":"`+f.selected+`"}}`)
		case "/api/roadmap/complete-course":
			require.NoError(t, r.ParseMultipartForm(1<<20))
			f.completedNotes = append(f.completedNotes, r.FormValue("note"))
			_, _ = io.WriteString(w, `{"data":{"completed":true}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}
}

func setupCLI(t *testing.T, api *fakeCareerAPI) string {
	t.Helper()
	server := httptest.NewServer(api.handler(t))
	t.Cleanup(server.Close)

	t.Setenv("GEMA_CAREER_API_BASE_URL", server.URL+"/api")
	t.Setenv("GEMA_ROADMAP_POLL_INTERVAL", "10ms")
	t.Setenv("GEMA_ROADMAP_POLL_TIMEOUT", "5s")
	t.Setenv("GEMA_API_TOKEN", "")
	return filepath.Join(t.TempDir(), "state.db")
}

func runCLI(t *testing.T, statePath string, args ...string) (string, error) {
	t.Helper()
	root, a := newRootCommand()
	t.Cleanup(a.close)

	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--token", "secret", "--state", statePath}, args...))
	err := root.ExecuteContext(t.Context())
	a.close()
	return out.String(), err
}

func TestCLIGenerateSelectComplete(t *testing.T) {
	api := &fakeCareerAPI{pendingPolls: 2}
	state := setupCLI(t, api)

	out, err := runCLI(t, state, "generate", "--wait")
	require.NoError(t, err)
	require.Contains(t, out, "poll 1")
	require.Contains(t, out, "r1  Backend Engineer")
	require.Contains(t, out, "r2  Frontend Engineer")

	out, err = runCLI(t, state, "select", "r1")
	require.NoError(t, err)
	require.Contains(t, out, "* r1  Backend Engineer")
	require.Contains(t, out, "1. [ ] Go Basics (go-101)")

	out, err = runCLI(t, state, "complete", "r1", "go-101", "--note", "done")
	require.NoError(t, err)
	require.Contains(t, out, "Completed course 1 (go-101)")
	require.Equal(t, []string{"done"}, api.completedNotes)

	out, err = runCLI(t, state, "--json", "progress")
	require.NoError(t, err)
	var summary models.ProgressSummary
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	require.Equal(t, 4, summary.TotalCourses)
	require.Equal(t, 1, summary.CompletedCourses)
	require.Equal(t, 25, summary.Percent)

	_, err = runCLI(t, state, "complete", "r1", "go-101")
	require.ErrorIs(t, err, service.ErrCourseAlreadyCompleted)

	out, err = runCLI(t, state, "view", "multi")
	require.NoError(t, err)
	require.Contains(t, out, "View set to multi")

	out, err = runCLI(t, state, "show", "--local")
	require.NoError(t, err)
	require.Contains(t, out, "View: multi")
	require.Contains(t, out, "1. [x] Go Basics (go-101)")
}

func TestCLIGenerateWithoutWaitReturnsAfterFirstPoll(t *testing.T) {
	state := setupCLI(t, &fakeCareerAPI{alwaysPending: true})

	out, err := runCLI(t, state, "generate")
	require.NoError(t, err)
	require.Contains(t, out, "Generation requested")
}

func TestCLIGenerateTimesOut(t *testing.T) {
	state := setupCLI(t, &fakeCareerAPI{alwaysPending: true})
	t.Setenv("GEMA_ROADMAP_POLL_TIMEOUT", "40ms")

	_, err := runCLI(t, state, "generate", "--wait")
	require.ErrorIs(t, err, service.ErrGenerationTimeout)

	_, err = runCLI(t, state, "retry")
	require.ErrorIs(t, err, service.ErrRetryNotAllowed)
}

func TestCLIResetAndValidation(t *testing.T) {
	state := setupCLI(t, &fakeCareerAPI{})

	_, err := runCLI(t, state, "generate", "--wait")
	require.NoError(t, err)

	_, err = runCLI(t, state, "regenerate", "r1", "first")
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	_, err = runCLI(t, state, "view", "grid")
	require.ErrorIs(t, err, service.ErrInvalidArgument)

	out, err := runCLI(t, state, "reset")
	require.NoError(t, err)
	require.Contains(t, out, "Roadmap state cleared.")

	out, err = runCLI(t, state, "show", "--local")
	require.NoError(t, err)
	require.Contains(t, out, "No roadmap suggestions yet")
}

func TestCLIRequiresToken(t *testing.T) {
	state := setupCLI(t, &fakeCareerAPI{})

	root, a := newRootCommand()
	t.Cleanup(a.close)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	root.SetArgs([]string{"--state", state, "show"})
	err := root.ExecuteContext(t.Context())
	require.ErrorContains(t, err, "api token required")
}

func TestFormatSnapshotMarksPendingAndErrors(t *testing.T) {
	selected := models.Roadmap{ID: "r1", Title: "Backend", Courses: []models.RoadmapCourse{
		{ID: "c-new", Title: models.PlaceholderCourseText, Order: 1, Reconcile: models.ReconcilePending},
		{ID: "sql-101", Title: "SQL", Order: 2},
	}}
	out := formatSnapshot(service.RoadmapSnapshot{
		Status:             models.SelectionStatusSelected,
		SelectedRoadmapID:  "r1",
		Suggestions:        []models.Roadmap{selected},
		Selected:           &selected,
		RegenerationErrors: map[int]string{2: "upstream failed"},
		Progress:           models.ProgressSummary{TotalCourses: 2, Source: models.ProgressSourceLocal},
	})

	require.Contains(t, out, "View: multi")
	require.Contains(t, out, "1. [ ] Updating... (c-new) ~syncing")
	require.Contains(t, out, "2. [ ] SQL (sql-101) ! upstream failed")
	require.Contains(t, out, "Progress: 0/2 courses (0%) [local]")
}
