package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/gema-roadmap/internal/models"
	"github.com/noah-isme/gema-roadmap/internal/observability"
	"github.com/noah-isme/gema-roadmap/internal/repository"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

const (
	// DefaultRefreshDelay is the wait between a successful mutation and the reconciling refresh.
	DefaultRefreshDelay = 800 * time.Millisecond

	subscriberBuffer = 4
	persistTimeout   = 5 * time.Second
	refreshTimeout   = 15 * time.Second
)

// RoadmapAPI is the career API surface a roadmap session drives.
type RoadmapAPI interface {
	GenerationSource
	RoadmapSelector
	CourseRegenerator
	CourseCompleter
	CourseLookup
	Progress(ctx context.Context) (careerapi.Progress, error)
}

// RoadmapSnapshot is a point-in-time copy of a session. It never aliases live state.
type RoadmapSnapshot struct {
	SessionKey         string                 `json:"sessionKey"`
	Version            uint64                 `json:"version"`
	Status             models.SelectionStatus `json:"status"`
	SelectedRoadmapID  string                 `json:"selectedRoadmapId,omitempty"`
	Suggestions        []models.Roadmap       `json:"suggestions"`
	Selected           *models.Roadmap        `json:"selected,omitempty"`
	FallbackUsed       bool                   `json:"fallbackUsed"`
	ViewPreference     models.ViewPreference  `json:"viewPreference"`
	Progress           models.ProgressSummary `json:"progress"`
	Generation         PollStatus             `json:"generation"`
	SelectionPending   bool                   `json:"selectionPending"`
	RegeneratingOrders []int                  `json:"regeneratingOrders"`
	RegenerationErrors map[int]string         `json:"regenerationErrors,omitempty"`
	UpdatedAt          time.Time              `json:"updatedAt"`
}

// RegenerateCourseCommand addresses one course slot of the selected roadmap.
type RegenerateCourseCommand struct {
	RoadmapID string `validate:"required"`
	Order     int    `validate:"gte=1"`
	Reason    string `validate:"max=500"`
}

// CompletionResult is returned once the server accepted a completion.
type CompletionResult struct {
	RoadmapID     string                 `json:"roadmapId"`
	CourseID      string                 `json:"courseId"`
	Order         int                    `json:"order"`
	CompletedAt   time.Time              `json:"completedAt"`
	EvidenceFiles []models.EvidenceFile  `json:"evidenceFiles,omitempty"`
	Progress      models.ProgressSummary `json:"progress"`
}

// RoadmapService coordinates one user's roadmap lifecycle.
type RoadmapService interface {
	Snapshot() RoadmapSnapshot
	Restore(ctx context.Context) error
	StartGeneration(ctx context.Context) (RoadmapSnapshot, error)
	RetryGeneration(ctx context.Context) (RoadmapSnapshot, error)
	StopGeneration() RoadmapSnapshot
	Refresh(ctx context.Context) (RoadmapSnapshot, error)
	Select(ctx context.Context, roadmapID string) (SelectionResult, error)
	RegenerateCourse(ctx context.Context, cmd RegenerateCourseCommand) (RegenerationResult, error)
	CompleteCourse(ctx context.Context, cmd CompleteCourseCommand) (CompletionResult, error)
	Progress(ctx context.Context) (models.ProgressSummary, error)
	SetViewPreference(ctx context.Context, view models.ViewPreference) (RoadmapSnapshot, error)
	Reset(ctx context.Context) error
	Subscribe() (<-chan RoadmapSnapshot, func())
	Close()
}

// Scheduler runs fn after delay and returns a cancel func. fn must not run synchronously.
type Scheduler func(delay time.Duration, fn func()) (cancel func())

func afterFuncScheduler(delay time.Duration, fn func()) func() {
	timer := time.AfterFunc(delay, fn)
	return func() { timer.Stop() }
}

// RoadmapServiceConfig tunes a session.
type RoadmapServiceConfig struct {
	SessionKey        string
	Poller            PollerConfig
	RefreshDelay      time.Duration
	EvidenceMaxSizeMB int
	Now               func() time.Time
	Schedule          Scheduler
}

// RoadmapServiceDeps are the collaborators of a session. Repository, Details and Events are optional.
type RoadmapServiceDeps struct {
	API        RoadmapAPI
	Repository repository.RoadmapStateRepository
	Details    *CourseDetailService
	Events     EventPublisher
	Validator  *validator.Validate
	Sanitizer  *bluemonday.Policy
	Logger     zerolog.Logger
}

type roadmapService struct {
	key          string
	api          RoadmapAPI
	repo         repository.RoadmapStateRepository
	details      *CourseDetailService
	events       EventPublisher
	validator    *validator.Validate
	sanitizer    *bluemonday.Policy
	logger       zerolog.Logger
	tracer       trace.Tracer
	now          func() time.Time
	schedule     Scheduler
	refreshDelay time.Duration

	poller       *GenerationPoller
	selection    *SelectionManager
	regeneration *RegenerationManager
	completion   *CompletionRecorder
	guard        *orderGuard

	mu             sync.RWMutex
	state          models.RoadmapSelectionState
	server         *models.ProgressSummary
	version        uint64
	updatedAt      time.Time
	pendingRefresh func()
	closed         bool

	persistMu        sync.Mutex
	persistedVersion uint64

	subsMu      sync.Mutex
	subscribers map[chan RoadmapSnapshot]struct{}

	consumers sync.WaitGroup
}

// NewRoadmapService constructs a session in the empty state.
func NewRoadmapService(deps RoadmapServiceDeps, cfg RoadmapServiceConfig) RoadmapService {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Poller.Now == nil {
		cfg.Poller.Now = cfg.Now
	}
	if cfg.Schedule == nil {
		cfg.Schedule = afterFuncScheduler
	}
	if cfg.RefreshDelay <= 0 {
		cfg.RefreshDelay = DefaultRefreshDelay
	}
	if deps.Events == nil {
		deps.Events = NopEventPublisher()
	}
	if deps.Validator == nil {
		deps.Validator = validator.New()
	}
	if deps.Sanitizer == nil {
		deps.Sanitizer = bluemonday.StrictPolicy()
	}

	logger := deps.Logger.With().Str("component", "roadmap_service").Str("session_key", cfg.SessionKey).Logger()
	guard := newOrderGuard()

	return &roadmapService{
		key:          cfg.SessionKey,
		api:          deps.API,
		repo:         deps.Repository,
		details:      deps.Details,
		events:       deps.Events,
		validator:    deps.Validator,
		sanitizer:    deps.Sanitizer,
		logger:       logger,
		tracer:       otel.Tracer("github.com/noah-isme/gema-roadmap/internal/service/roadmap"),
		now:          cfg.Now,
		schedule:     cfg.Schedule,
		refreshDelay: cfg.RefreshDelay,
		poller:       NewGenerationPoller(deps.API, cfg.Poller, deps.Logger),
		selection:    NewSelectionManager(deps.API),
		regeneration: newRegenerationManager(deps.API, guard),
		completion:   newCompletionRecorder(deps.API, NewEvidenceInspector(cfg.EvidenceMaxSizeMB), deps.Sanitizer),
		guard:        guard,
		state:        emptySelectionState(),
		updatedAt:    cfg.Now().UTC(),
		subscribers:  make(map[chan RoadmapSnapshot]struct{}),
	}
}

func (s *roadmapService) Snapshot() RoadmapSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Restore loads persisted state. Missing or unreadable state leaves the session empty.
func (s *roadmapService) Restore(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	payload, err := s.repo.Load(ctx, s.key)
	if errors.Is(err, repository.ErrStateNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load roadmap state: %w", err)
	}

	state, err := DecodeSelectionState(payload)
	if err != nil {
		s.logger.Warn().Err(err).Msg("discarding unreadable roadmap state")
	}

	s.mu.Lock()
	s.state = state
	snap, _ := s.commitLocked()
	s.mu.Unlock()

	s.persistMu.Lock()
	s.persistedVersion = snap.Version
	s.persistMu.Unlock()

	s.broadcast(snap)
	return nil
}

func (s *roadmapService) StartGeneration(ctx context.Context) (RoadmapSnapshot, error) {
	updates, err := s.poller.Start(ctx)
	if err != nil {
		return s.Snapshot(), err
	}
	s.consume(updates)
	return s.Snapshot(), nil
}

func (s *roadmapService) RetryGeneration(ctx context.Context) (RoadmapSnapshot, error) {
	updates, err := s.poller.Retry(ctx)
	if err != nil {
		return s.Snapshot(), err
	}
	s.consume(updates)
	return s.Snapshot(), nil
}

func (s *roadmapService) StopGeneration() RoadmapSnapshot {
	s.poller.Stop()
	s.mu.Lock()
	snap, _ := s.commitLocked()
	s.mu.Unlock()
	s.broadcast(snap)
	return snap
}

func (s *roadmapService) consume(updates <-chan PollStatus) {
	s.consumers.Add(1)
	go func() {
		defer s.consumers.Done()
		for status := range updates {
			s.applyPollStatus(status)
		}
	}()
}

func (s *roadmapService) applyPollStatus(status PollStatus) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if status.Status == PollReady && len(status.Suggestions) > 0 {
		s.applySuggestionsLocked(status.Suggestions, status.Current)
	}
	snap, state := s.commitLocked()
	s.mu.Unlock()

	ctx := context.Background()
	s.afterChange(ctx, snap, state)

	switch status.Status {
	case PollReady:
		s.publish(ctx, RoadmapEvent{
			Type:       EventGenerationReady,
			Attributes: map[string]any{"suggestions": len(status.Suggestions), "fallback_used": snap.FallbackUsed, "attempts": status.Attempts},
		})
	case PollTimedOut:
		s.publish(ctx, RoadmapEvent{
			Type:       EventGenerationTimedOut,
			Attributes: map[string]any{"attempts": status.Attempts, "elapsed_seconds": status.ElapsedSeconds},
		})
	}
}

// applySuggestionsLocked supersedes the suggestion set wholesale.
func (s *roadmapService) applySuggestionsLocked(suggestions []models.Roadmap, current *careerapi.CurrentRoadmap) {
	s.state.Suggestions = suggestions
	s.state.Status = models.SelectionStatusGenerated
	s.server = nil
	if current != nil {
		s.state.FallbackUsed = current.FallbackUsed
		if current.SelectedRoadmapID != "" {
			s.state.SelectedRoadmapID = current.SelectedRoadmapID
		}
		if current.Progress != nil {
			progress := serverProgress(*current.Progress)
			s.server = &progress
		}
	}
	s.state = reconcileStateInvariants(s.state)
	if current != nil {
		s.applyCompletedIDsLocked(current.CompletedCourseIDs)
	}
}

func (s *roadmapService) applyCompletedIDsLocked(ids []string) {
	if len(ids) == 0 {
		return
	}
	idx, ok := s.state.SelectedRoadmap()
	if !ok {
		return
	}
	completed := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		completed[id] = struct{}{}
	}
	courses := s.state.Suggestions[idx].Courses
	for i := range courses {
		if _, done := completed[courses[i].ID]; done {
			courses[i].Completed = true
			courses[i].Reconcile = models.ReconcileConfirmed
		}
	}
}

func (s *roadmapService) Refresh(ctx context.Context) (RoadmapSnapshot, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "roadmap.refresh")
	defer span.End()

	current, err := s.api.Current(ctx)
	if err != nil {
		err = classifyAPIError("refresh roadmap", err)
		s.recordMutation(span, "refresh", start, err)
		return s.Snapshot(), err
	}

	progress, progressErr := s.api.Progress(ctx)
	if progressErr != nil && !errors.Is(progressErr, careerapi.ErrNotFound) {
		s.logger.Warn().Err(progressErr).Msg("progress query failed; using local progress")
	}

	suggestions := NormalizeSuggestionsJSON(current.Raw)

	s.mu.Lock()
	if len(suggestions) > 0 {
		s.state.Suggestions = suggestions
		s.state.FallbackUsed = current.FallbackUsed
	}
	if current.SelectedRoadmapID != "" {
		s.state.SelectedRoadmapID = current.SelectedRoadmapID
		s.state.Status = models.SelectionStatusSelected
	}
	s.state = reconcileStateInvariants(s.state)
	s.applyCompletedIDsLocked(current.CompletedCourseIDs)
	switch {
	case progressErr == nil:
		summary := serverProgress(progress)
		s.server = &summary
	case current.Progress != nil:
		summary := serverProgress(*current.Progress)
		s.server = &summary
	default:
		s.server = nil
	}
	targets := s.enrichmentTargetsLocked()
	s.mu.Unlock()

	details := s.fetchDetails(ctx, targets)

	s.mu.Lock()
	s.applyDetailsLocked(details)
	snap, state := s.commitLocked()
	s.mu.Unlock()

	s.afterChange(ctx, snap, state)
	s.recordMutation(span, "refresh", start, nil)
	return snap, nil
}

// enrichmentTargetsLocked lists selected-roadmap course ids that have no description yet.
func (s *roadmapService) enrichmentTargetsLocked() []string {
	if s.details == nil {
		return nil
	}
	idx, ok := s.state.SelectedRoadmap()
	if !ok {
		return nil
	}
	var ids []string
	for _, course := range s.state.Suggestions[idx].Courses {
		if course.Description == "" && course.ID != "" && !isSyntheticCourseID(course.ID) {
			ids = append(ids, course.ID)
		}
	}
	return ids
}

func (s *roadmapService) fetchDetails(ctx context.Context, ids []string) map[string]careerapi.CourseDetail {
	if len(ids) == 0 {
		return nil
	}
	out := make(map[string]careerapi.CourseDetail, len(ids))
	for _, id := range ids {
		detail, err := s.details.Get(ctx, s.api, id)
		if err != nil {
			s.logger.Debug().Err(err).Str("course_id", id).Msg("course detail lookup failed")
			continue
		}
		out[id] = detail
	}
	return out
}

func (s *roadmapService) applyDetailsLocked(details map[string]careerapi.CourseDetail) {
	if len(details) == 0 {
		return
	}
	idx, ok := s.state.SelectedRoadmap()
	if !ok {
		return
	}
	courses := s.state.Suggestions[idx].Courses
	for i := range courses {
		detail, found := details[courses[i].ID]
		if !found || courses[i].Description != "" {
			continue
		}
		courses[i].Description = detail.Description
		if courses[i].Title == "" {
			courses[i].Title = detail.Title
		}
		if courses[i].Category == "" {
			courses[i].Category = detail.Category
		}
		if courses[i].Instructor == "" {
			courses[i].Instructor = detail.Instructor
		}
		if courses[i].DurationWeeks == 0 {
			courses[i].DurationWeeks = detail.DurationWeeks
		}
	}
}

func (s *roadmapService) Select(ctx context.Context, roadmapID string) (SelectionResult, error) {
	start := time.Now()
	roadmapID = strings.TrimSpace(roadmapID)
	ctx, span := s.tracer.Start(ctx, "roadmap.select", trace.WithAttributes(attribute.String("roadmap.id", roadmapID)))
	defer span.End()

	result, err := s.selection.Select(ctx, roadmapID)
	if err != nil {
		s.recordMutation(span, "select", start, err)
		return SelectionResult{}, err
	}
	if result.Ignored {
		observability.RoadmapMutations().WithLabelValues("select", "ignored").Inc()
		span.SetAttributes(attribute.Bool("roadmap.selection_ignored", true))
		return result, nil
	}
	if result.RoadmapID == "" {
		result.RoadmapID = roadmapID
	}

	s.mu.Lock()
	previous := s.state.SelectedRoadmapID
	s.state.SelectedRoadmapID = result.RoadmapID
	s.state.Status = models.SelectionStatusSelected
	_, known := s.state.SelectedRoadmap()
	if !known {
		s.state.SelectedRoadmapID = previous
		s.state = reconcileStateInvariants(s.state)
	} else {
		s.server = nil
	}
	snap, state := s.commitLocked()
	s.mu.Unlock()

	if known {
		s.afterChange(ctx, snap, state)
	} else if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Str("roadmap_id", result.RoadmapID).Msg("refresh after selecting unknown roadmap failed")
	}

	s.publish(ctx, RoadmapEvent{Type: EventRoadmapSelected, RoadmapID: result.RoadmapID})
	s.recordMutation(span, "select", start, nil)
	return result, nil
}

func (s *roadmapService) RegenerateCourse(ctx context.Context, cmd RegenerateCourseCommand) (RegenerationResult, error) {
	start := time.Now()
	cmd.RoadmapID = strings.TrimSpace(cmd.RoadmapID)
	cmd.Reason = strings.TrimSpace(s.sanitizer.Sanitize(cmd.Reason))
	ctx, span := s.tracer.Start(ctx, "roadmap.regenerate_course", trace.WithAttributes(
		attribute.String("roadmap.id", cmd.RoadmapID),
		attribute.Int("course.order", cmd.Order),
	))
	defer span.End()

	if err := s.validator.Struct(cmd); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		s.recordMutation(span, "regenerate", start, err)
		return RegenerationResult{}, err
	}
	if err := s.requireSelected(cmd.RoadmapID); err != nil {
		s.recordMutation(span, "regenerate", start, err)
		return RegenerationResult{}, err
	}

	result, release, err := s.regeneration.Regenerate(ctx, cmd.RoadmapID, cmd.Order, cmd.Reason)
	if err != nil {
		s.recordMutation(span, "regenerate", start, err)
		s.broadcast(s.Snapshot())
		return RegenerationResult{}, err
	}

	s.mu.Lock()
	var previous string
	if idx, ok := s.state.SelectedRoadmap(); ok && s.state.SelectedRoadmapID == cmd.RoadmapID {
		roadmap := &s.state.Suggestions[idx]
		if ci, found := roadmap.CourseByOrder(cmd.Order); found {
			previous = roadmap.Courses[ci].ID
			roadmap.Courses[ci] = models.RoadmapCourse{
				ID:          result.NewCourseID,
				Title:       models.PlaceholderCourseText,
				Description: models.PlaceholderCourseText,
				Order:       cmd.Order,
				Reconcile:   models.ReconcilePending,
			}
		}
	}
	release()
	s.server = nil
	snap, state := s.commitLocked()
	s.mu.Unlock()

	s.afterChange(ctx, snap, state)
	s.publish(ctx, RoadmapEvent{
		Type:       EventCourseRegenerated,
		RoadmapID:  cmd.RoadmapID,
		CourseID:   result.NewCourseID,
		Order:      cmd.Order,
		Attributes: map[string]any{"previous_course_id": previous, "ai_used": result.AIUsed},
	})
	s.scheduleRefresh()
	s.recordMutation(span, "regenerate", start, nil)
	return result, nil
}

func (s *roadmapService) CompleteCourse(ctx context.Context, cmd CompleteCourseCommand) (CompletionResult, error) {
	start := time.Now()
	cmd.RoadmapID = strings.TrimSpace(cmd.RoadmapID)
	cmd.CourseID = strings.TrimSpace(cmd.CourseID)
	ctx, span := s.tracer.Start(ctx, "roadmap.complete_course", trace.WithAttributes(
		attribute.String("roadmap.id", cmd.RoadmapID),
		attribute.String("course.id", cmd.CourseID),
	))
	defer span.End()

	if err := s.validator.Struct(cmd); err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidArgument, err)
		s.recordMutation(span, "complete", start, err)
		return CompletionResult{}, err
	}

	order, err := s.completionOrder(cmd.RoadmapID, cmd.CourseID)
	if err != nil {
		s.recordMutation(span, "complete", start, err)
		return CompletionResult{}, err
	}
	span.SetAttributes(attribute.Int("course.order", order))

	if err := s.guard.acquire(order, orderOpComplete); err != nil {
		s.recordMutation(span, "complete", start, err)
		return CompletionResult{}, err
	}
	defer s.guard.release(order)

	// A regeneration may have swapped the slot between the lookup and the guard.
	if current, err := s.completionOrder(cmd.RoadmapID, cmd.CourseID); err != nil || current != order {
		if err == nil {
			err = ErrOrderBusy
		}
		s.recordMutation(span, "complete", start, err)
		return CompletionResult{}, err
	}

	record, err := s.completion.Record(ctx, cmd)
	if err != nil {
		s.recordMutation(span, "complete", start, err)
		return CompletionResult{}, err
	}

	completedAt := s.now().UTC()
	if record.CompletedAt != nil {
		completedAt = record.CompletedAt.UTC()
	}
	evidence := make([]models.EvidenceFile, 0, len(record.EvidenceFiles))
	for _, file := range record.EvidenceFiles {
		evidence = append(evidence, models.EvidenceFile{Filename: file.Filename, URL: file.URL, MimeType: file.MimeType, Size: file.Size})
	}

	s.mu.Lock()
	if idx, ok := s.state.SelectedRoadmap(); ok && s.state.SelectedRoadmapID == cmd.RoadmapID {
		roadmap := &s.state.Suggestions[idx]
		if ci, found := roadmap.CourseByOrder(order); found {
			course := &roadmap.Courses[ci]
			at := completedAt
			course.Completed = true
			course.CompletedAt = &at
			if len(evidence) > 0 {
				course.EvidenceFiles = evidence
			}
			course.Reconcile = models.ReconcilePending
		}
	}
	s.server = nil
	progress := s.progressLocked()
	snap, state := s.commitLocked()
	s.mu.Unlock()

	s.afterChange(ctx, snap, state)
	s.publish(ctx, RoadmapEvent{
		Type:       EventCourseCompleted,
		RoadmapID:  cmd.RoadmapID,
		CourseID:   cmd.CourseID,
		Order:      order,
		Attributes: map[string]any{"evidence_files": len(evidence), "percent": progress.Percent},
	})
	s.scheduleRefresh()
	s.recordMutation(span, "complete", start, nil)

	return CompletionResult{
		RoadmapID:     cmd.RoadmapID,
		CourseID:      cmd.CourseID,
		Order:         order,
		CompletedAt:   completedAt,
		EvidenceFiles: evidence,
		Progress:      progress,
	}, nil
}

// completionOrder captures the order of the course being completed.
func (s *roadmapService) completionOrder(roadmapID, courseID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx, ok := s.state.SelectedRoadmap()
	if !ok {
		return 0, ErrNoSelection
	}
	roadmap := s.state.Suggestions[idx]
	if roadmap.ID != roadmapID {
		return 0, invalidArgument("roadmap %s is not the selected roadmap", roadmapID)
	}
	ci, found := roadmap.CourseByID(courseID)
	if !found {
		return 0, invalidArgument("course %s is not part of roadmap %s", courseID, roadmapID)
	}
	if roadmap.Courses[ci].Completed {
		return 0, ErrCourseAlreadyCompleted
	}
	return roadmap.Courses[ci].Order, nil
}

func (s *roadmapService) requireSelected(roadmapID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.state.SelectedRoadmap(); !ok {
		return ErrNoSelection
	}
	if s.state.SelectedRoadmapID != roadmapID {
		return invalidArgument("roadmap %s is not the selected roadmap", roadmapID)
	}
	return nil
}

// Progress prefers the server aggregate and falls back to local flags when it is unavailable.
func (s *roadmapService) Progress(ctx context.Context) (models.ProgressSummary, error) {
	progress, err := s.api.Progress(ctx)
	if err != nil {
		if errors.Is(err, careerapi.ErrMissingCredential) {
			return models.ProgressSummary{}, classifyAPIError("progress", err)
		}
		if !errors.Is(err, careerapi.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("progress query failed; using local progress")
		}
		s.mu.RLock()
		defer s.mu.RUnlock()
		return s.progressLocked(), nil
	}

	summary := serverProgress(progress)
	s.mu.Lock()
	s.server = &summary
	snap, state := s.commitLocked()
	s.mu.Unlock()
	s.afterChange(ctx, snap, state)
	return summary, nil
}

func (s *roadmapService) SetViewPreference(ctx context.Context, view models.ViewPreference) (RoadmapSnapshot, error) {
	if view != models.ViewSinglePath && view != models.ViewMultiPath {
		return s.Snapshot(), invalidArgument("unknown view preference %q", view)
	}
	s.mu.Lock()
	s.state.ViewPreference = view
	snap, state := s.commitLocked()
	s.mu.Unlock()
	s.afterChange(ctx, snap, state)
	return snap, nil
}

// Reset stops polling, clears the session and forgets persisted state.
func (s *roadmapService) Reset(ctx context.Context) error {
	s.poller.Stop()

	s.mu.Lock()
	if s.pendingRefresh != nil {
		s.pendingRefresh()
		s.pendingRefresh = nil
	}
	s.state = emptySelectionState()
	s.server = nil
	s.regeneration.reset()
	snap, _ := s.commitLocked()
	s.mu.Unlock()

	var err error
	if s.repo != nil {
		s.persistMu.Lock()
		s.persistedVersion = snap.Version
		err = s.repo.Delete(ctx, s.key)
		s.persistMu.Unlock()
	}
	s.broadcast(snap)
	s.publish(ctx, RoadmapEvent{Type: EventRoadmapReset})
	if err != nil {
		return fmt.Errorf("delete roadmap state: %w", err)
	}
	return nil
}

// Subscribe streams snapshots, starting with the current one. Slow readers only see the latest.
func (s *roadmapService) Subscribe() (<-chan RoadmapSnapshot, func()) {
	ch := make(chan RoadmapSnapshot, subscriberBuffer)
	ch <- s.Snapshot()

	s.subsMu.Lock()
	if s.subscribers == nil {
		s.subsMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	s.subscribers[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			defer s.subsMu.Unlock()
			if _, ok := s.subscribers[ch]; ok {
				delete(s.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Close stops background work and closes subscriber channels.
func (s *roadmapService) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.pendingRefresh != nil {
		s.pendingRefresh()
		s.pendingRefresh = nil
	}
	s.mu.Unlock()

	s.poller.Stop()
	s.consumers.Wait()

	s.subsMu.Lock()
	for ch := range s.subscribers {
		close(ch)
	}
	s.subscribers = nil
	s.subsMu.Unlock()
}

func (s *roadmapService) scheduleRefresh() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.pendingRefresh != nil {
		s.pendingRefresh()
	}
	s.pendingRefresh = s.schedule(s.refreshDelay, s.scheduledRefresh)
}

func (s *roadmapService) scheduledRefresh() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pendingRefresh = nil
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("scheduled roadmap refresh failed")
	}
}

// commitLocked bumps the version and returns the snapshot plus a copy of state to persist.
func (s *roadmapService) commitLocked() (RoadmapSnapshot, models.RoadmapSelectionState) {
	s.version++
	s.updatedAt = s.now().UTC()
	return s.snapshotLocked(), s.state.Clone()
}

func (s *roadmapService) snapshotLocked() RoadmapSnapshot {
	state := s.state.Clone()
	snap := RoadmapSnapshot{
		SessionKey:         s.key,
		Version:            s.version,
		Status:             state.Status,
		SelectedRoadmapID:  state.SelectedRoadmapID,
		Suggestions:        state.Suggestions,
		FallbackUsed:       state.FallbackUsed,
		ViewPreference:     state.ViewPreference,
		Progress:           s.progressLocked(),
		Generation:         s.poller.Status(),
		SelectionPending:   s.selection.Pending(),
		RegeneratingOrders: s.regeneration.InFlightOrders(),
		RegenerationErrors: s.regeneration.Errors(),
		UpdatedAt:          s.updatedAt,
	}
	if idx, ok := state.SelectedRoadmap(); ok {
		selected := state.Suggestions[idx].Clone()
		snap.Selected = &selected
	}
	return snap
}

func (s *roadmapService) progressLocked() models.ProgressSummary {
	if s.server != nil {
		return *s.server
	}
	if idx, ok := s.state.SelectedRoadmap(); ok {
		return CourseProgress(s.state.Suggestions[idx].Courses)
	}
	return ComputeProgress(nil)
}

func (s *roadmapService) afterChange(ctx context.Context, snap RoadmapSnapshot, state models.RoadmapSelectionState) {
	s.persist(ctx, snap.Version, state)
	s.broadcast(snap)
}

// persist saves state unless a newer version was already written.
func (s *roadmapService) persist(ctx context.Context, version uint64, state models.RoadmapSelectionState) {
	if s.repo == nil {
		return
	}
	s.persistMu.Lock()
	defer s.persistMu.Unlock()
	if version <= s.persistedVersion {
		return
	}

	payload, err := EncodeSelectionState(state, s.now())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode roadmap state")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := s.repo.Save(ctx, s.key, payload); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist roadmap state")
		return
	}
	s.persistedVersion = version
}

func (s *roadmapService) broadcast(snap RoadmapSnapshot) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subscribers {
		select {
		case ch <- snap:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *roadmapService) publish(ctx context.Context, event RoadmapEvent) {
	event.SessionKey = s.key
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn().Err(err).Str("event", event.Type).Msg("failed to publish roadmap event")
	}
}

func (s *roadmapService) recordMutation(span trace.Span, operation string, start time.Time, err error) {
	observability.RoadmapMutationLatency().WithLabelValues(operation).Observe(time.Since(start).Seconds())
	result := "ok"
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, operation+" failed")
		s.logger.Debug().Err(err).Str("operation", operation).Msg("roadmap mutation failed")
	} else {
		span.SetStatus(codes.Ok, operation)
	}
	observability.RoadmapMutations().WithLabelValues(operation, result).Inc()
}

func isSyntheticCourseID(id string) bool {
	rest, ok := strings.CutPrefix(id, "c-")
	if !ok {
		return false
	}
	_, err := strconv.Atoi(rest)
	return err == nil
}
