package careerapi

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, tokens TokenSource) (*Client, *atomic.Int32) {
	t.Helper()
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	client, err := New(Config{BaseURL: server.URL + "/api", Tokens: tokens, Logger: zerolog.Nop()})
	require.NoError(t, err)
	return client, &hits
}

func TestClientSendsBearerAndUnwrapsEnvelope(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.Equal(t, "/api/roadmap/current", r.URL.Path)
		_, _ = io.WriteString(w, `{"data":{"status":"selected","selectedRoadmapId":12,"completedCourseIds":["a",3],"generatedRoadmaps":{"fallbackUsed":true,"suggestions":[{"id":"12"}]},"progress":{"totalCourses":4,"completedCourses":2,"percent":50}}}`)
	}, StaticToken("secret"))

	current, err := client.Current(t.Context())
	require.NoError(t, err)
	require.Equal(t, "selected", current.Status)
	require.Equal(t, "12", current.SelectedRoadmapID)
	require.True(t, current.FallbackUsed)
	require.Equal(t, []string{"a", "3"}, current.CompletedCourseIDs)
	require.Equal(t, &Progress{TotalCourses: 4, CompletedCourses: 2, Percent: 50}, current.Progress)
	require.Contains(t, string(current.Raw), "generatedRoadmaps")
}

func TestClientMissingCredentialFailsBeforeRequest(t *testing.T) {
	client, hits := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}, StaticToken("  "))

	_, err := client.Generate(t.Context())
	require.ErrorIs(t, err, ErrMissingCredential)

	_, err = client.WithTokenSource(nil).Select(t.Context(), "r1")
	require.ErrorIs(t, err, ErrMissingCredential)

	require.Zero(t, hits.Load())
}

func TestClientMapsStatusCodes(t *testing.T) {
	cases := map[int]error{
		http.StatusNotFound:            ErrNotFound,
		http.StatusBadRequest:          ErrBadRequest,
		http.StatusUnprocessableEntity: ErrBadRequest,
		http.StatusUnauthorized:        ErrUnauthorized,
		http.StatusBadGateway:          ErrUnavailable,
	}
	for status, want := range cases {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
			_, _ = io.WriteString(w, `{"message":"nope"}`)
		}, StaticToken("secret"))

		_, err := client.Select(t.Context(), "r1")
		require.ErrorIs(t, err, want, "status %d", status)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		require.Equal(t, "nope", apiErr.Message)
		require.Equal(t, want == ErrUnavailable, IsTransient(err))
	}
}

func TestClientGenerateReportsAccepted(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.WriteHeader(http.StatusAccepted)
	}, StaticToken("secret"))

	result, err := client.Generate(t.Context())
	require.NoError(t, err)
	require.True(t, result.Accepted)
}

func TestClientRegenerateCourse(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.JSONEq(t, `{"roadmapId":"r1","order":3,"reason":"harder"}`, string(body))
		_, _ = io.WriteString(w, `{"data":{"courseId":99,"aiUsed":true}}`)
	}, StaticToken("secret"))

	result, err := client.RegenerateCourse(t.Context(), RegenerateCourseInput{RoadmapID: "r1", Order: 3, Reason: "harder"})
	require.NoError(t, err)
	require.Equal(t, RegenerateCourseResult{Order: 3, NewCourseID: "99", AIUsed: true}, result)
}

func TestClientCompleteCourseSendsMultipart(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		require.Equal(t, "r1", r.FormValue("roadmapId"))
		require.Equal(t, "c2", r.FormValue("courseId"))
		require.Equal(t, "done", r.FormValue("note"))

		file, header, err := r.FormFile("evidence")
		require.NoError(t, err)
		defer file.Close()
		content, err := io.ReadAll(file)
		require.NoError(t, err)
		require.Equal(t, "proof.txt", header.Filename)
		require.Equal(t, "text/plain", header.Header.Get("Content-Type"))
		require.Equal(t, "evidence body", string(content))

		_, _ = io.WriteString(w, `{"data":{"completed":true,"completedAt":"2024-05-01T10:00:00Z","evidenceFiles":[{"filename":"proof.txt","url":"https://cdn/proof.txt"}]}}`)
	}, StaticToken("secret"))

	record, err := client.CompleteCourse(t.Context(), CompleteCourseInput{
		RoadmapID: "r1",
		CourseID:  "c2",
		Note:      "done",
		Evidence:  &EvidenceUpload{Filename: "proof.txt", MimeType: "text/plain", Content: []byte("evidence body")},
	})
	require.NoError(t, err)
	require.True(t, record.Completed)
	require.Equal(t, FlexString("r1"), record.RoadmapID)
	require.NotNil(t, record.CompletedAt)
	require.Len(t, record.EvidenceFiles, 1)
}

func TestClientCourseDetail(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/courses/go-101", r.URL.Path)
		_, _ = io.WriteString(w, `{"id":"go-101","title":"Go","description":"Intro","durationWeeks":3}`)
	}, StaticToken("secret"))

	detail, err := client.CourseDetail(t.Context(), "go-101")
	require.NoError(t, err)
	require.Equal(t, "Intro", detail.Description)

	_, err = client.CourseDetail(t.Context(), " ")
	require.ErrorIs(t, err, ErrBadRequest)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
