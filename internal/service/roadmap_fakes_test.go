package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/repository"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

const backendSuggestionsJSON = `{
  "generatedRoadmaps": {
    "fallbackUsed": false,
    "suggestions": [
      {"id": "r1", "title": "Backend Engineer", "courses": [
        {"courseId": "go-101", "order": 1, "title": "Go Basics"},
        {"courseId": "sql-101", "order": 2, "title": "SQL"},
        {"courseId": "http-101", "order": 3, "title": "HTTP"},
        {"courseId": "ops-101", "order": 4, "title": "Ops"}
      ]},
      {"id": "r2", "title": "Frontend Engineer", "courses": ["css-101", "js-101"]}
    ]
  }
}`

type fakeRoadmapAPI struct {
	mu sync.Mutex

	generateCalls   int
	generateCancels int
	currentCalls    int
	selectCalls     int
	regenerateCalls int
	completeCalls   int
	progressCalls   int

	currentFn    func(call int) (careerapi.CurrentRoadmap, error)
	selectFn     func(roadmapID string) (careerapi.SelectResult, error)
	regenerateFn func(input careerapi.RegenerateCourseInput) (careerapi.RegenerateCourseResult, error)
	completeFn   func(input careerapi.CompleteCourseInput) (careerapi.CompletionRecord, error)
	progressFn   func() (careerapi.Progress, error)
	details      map[string]careerapi.CourseDetail

	generateGate   chan struct{}
	selectGate     chan struct{}
	regenerateGate chan struct{}

	completeInputs []careerapi.CompleteCourseInput
}

func newFakeRoadmapAPI() *fakeRoadmapAPI {
	return &fakeRoadmapAPI{details: map[string]careerapi.CourseDetail{}}
}

func (f *fakeRoadmapAPI) Generate(ctx context.Context) (careerapi.GenerateResult, error) {
	f.mu.Lock()
	f.generateCalls++
	gate := f.generateGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			f.mu.Lock()
			f.generateCancels++
			f.mu.Unlock()
			return careerapi.GenerateResult{}, ctx.Err()
		}
	}
	return careerapi.GenerateResult{Accepted: true}, nil
}

func (f *fakeRoadmapAPI) canceledGenerates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCancels
}

func (f *fakeRoadmapAPI) generates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generateCalls
}

func (f *fakeRoadmapAPI) Current(context.Context) (careerapi.CurrentRoadmap, error) {
	f.mu.Lock()
	f.currentCalls++
	call, fn := f.currentCalls, f.currentFn
	f.mu.Unlock()
	if fn == nil {
		return careerapi.CurrentRoadmap{Status: "pending", Raw: json.RawMessage(`{}`)}, nil
	}
	return fn(call)
}

func (f *fakeRoadmapAPI) Select(_ context.Context, roadmapID string) (careerapi.SelectResult, error) {
	f.mu.Lock()
	f.selectCalls++
	gate, fn := f.selectGate, f.selectFn
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fn != nil {
		return fn(roadmapID)
	}
	return careerapi.SelectResult{SelectedRoadmapID: roadmapID}, nil
}

func (f *fakeRoadmapAPI) RegenerateCourse(_ context.Context, input careerapi.RegenerateCourseInput) (careerapi.RegenerateCourseResult, error) {
	f.mu.Lock()
	f.regenerateCalls++
	gate, fn := f.regenerateGate, f.regenerateFn
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if fn != nil {
		return fn(input)
	}
	return careerapi.RegenerateCourseResult{Order: input.Order, NewCourseID: "new-course", AIUsed: true}, nil
}

func (f *fakeRoadmapAPI) CompleteCourse(_ context.Context, input careerapi.CompleteCourseInput) (careerapi.CompletionRecord, error) {
	f.mu.Lock()
	f.completeCalls++
	f.completeInputs = append(f.completeInputs, input)
	fn := f.completeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(input)
	}
	return careerapi.CompletionRecord{
		RoadmapID: careerapi.FlexString(input.RoadmapID),
		CourseID:  careerapi.FlexString(input.CourseID),
		Completed: true,
	}, nil
}

func (f *fakeRoadmapAPI) Progress(context.Context) (careerapi.Progress, error) {
	f.mu.Lock()
	f.progressCalls++
	fn := f.progressFn
	f.mu.Unlock()
	if fn == nil {
		return careerapi.Progress{}, &careerapi.APIError{Op: "progress", StatusCode: 404}
	}
	return fn()
}

func (f *fakeRoadmapAPI) CourseDetail(_ context.Context, courseID string) (careerapi.CourseDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	detail, ok := f.details[courseID]
	if !ok {
		return careerapi.CourseDetail{}, &careerapi.APIError{Op: "course detail", StatusCode: 404}
	}
	return detail, nil
}

func (f *fakeRoadmapAPI) calls() (current, selects, regenerates, completes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentCalls, f.selectCalls, f.regenerateCalls, f.completeCalls
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type manualTicker struct {
	ch chan time.Time
}

func newManualTicker() *manualTicker {
	return &manualTicker{ch: make(chan time.Time)}
}

func (t *manualTicker) C() <-chan time.Time { return t.ch }
func (t *manualTicker) Stop()               {}

// tick advances the clock by one interval and fires the ticker.
func (t *manualTicker) tick(tb testing.TB, clock *fakeClock, interval time.Duration) {
	tb.Helper()
	clock.Advance(interval)
	select {
	case t.ch <- clock.Now():
	case <-time.After(2 * time.Second):
		tb.Fatal("poll loop did not accept tick")
	}
}

type manualScheduler struct {
	mu      sync.Mutex
	pending []func()
	delays  []time.Duration
}

func (s *manualScheduler) Schedule(delay time.Duration, fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.pending)
	s.pending = append(s.pending, fn)
	s.delays = append(s.delays, delay)
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.pending[idx] = nil
	}
}

// runPending fires every scheduled callback that was not canceled.
func (s *manualScheduler) runPending() int {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	ran := 0
	for _, fn := range pending {
		if fn != nil {
			fn()
			ran++
		}
	}
	return ran
}

func nextStatus(t *testing.T, updates <-chan PollStatus) PollStatus {
	t.Helper()
	select {
	case status, ok := <-updates:
		require.True(t, ok, "status channel closed early")
		return status
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for poll status")
		return PollStatus{}
	}
}

type testSession struct {
	svc       *roadmapService
	api       *fakeRoadmapAPI
	clock     *fakeClock
	ticker    *manualTicker
	scheduler *manualScheduler
}

func newTestSession(t *testing.T, api *fakeRoadmapAPI, repo repository.RoadmapStateRepository) *testSession {
	t.Helper()
	clock := newFakeClock()
	ticker := newManualTicker()
	scheduler := &manualScheduler{}

	svc := NewRoadmapService(RoadmapServiceDeps{
		API:        api,
		Repository: repo,
		Details:    NewCourseDetailService(time.Minute, zerolog.Nop()),
		Logger:     zerolog.Nop(),
	}, RoadmapServiceConfig{
		SessionKey: "user:42",
		Poller: PollerConfig{
			Interval:  3 * time.Second,
			Timeout:   90 * time.Second,
			NewTicker: func(time.Duration) Ticker { return ticker },
		},
		Now:      clock.Now,
		Schedule: scheduler.Schedule,
	})
	t.Cleanup(svc.Close)

	return &testSession{svc: svc.(*roadmapService), api: api, clock: clock, ticker: ticker, scheduler: scheduler}
}

// seedSelected loads the backend suggestions with r1 selected.
func (s *testSession) seedSelected(t *testing.T) {
	t.Helper()
	suggestions := NormalizeSuggestionsJSON([]byte(backendSuggestionsJSON))
	require.Len(t, suggestions, 2)

	s.svc.mu.Lock()
	s.svc.state = models.RoadmapSelectionState{
		Status:            models.SelectionStatusSelected,
		SelectedRoadmapID: "r1",
		Suggestions:       suggestions,
		ViewPreference:    models.ViewMultiPath,
	}
	s.svc.mu.Unlock()
}
