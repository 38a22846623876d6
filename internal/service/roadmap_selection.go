package service

import (
	"context"
	"strings"
	"sync"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

// RoadmapSelector commits a roadmap choice upstream.
type RoadmapSelector interface {
	Select(ctx context.Context, roadmapID string) (careerapi.SelectResult, error)
}

// SelectionResult reports a selection outcome. Ignored is set when another
// selection was still in flight and this call was not dispatched.
type SelectionResult struct {
	RoadmapID string `json:"roadmapId,omitempty"`
	Ignored   bool   `json:"ignored"`
}

// SelectionManager allows exactly one selection request in flight.
type SelectionManager struct {
	api RoadmapSelector

	mu       sync.Mutex
	inFlight bool
}

// NewSelectionManager builds a selection manager.
func NewSelectionManager(api RoadmapSelector) *SelectionManager {
	return &SelectionManager{api: api}
}

// Pending reports whether a selection request is in flight.
func (m *SelectionManager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// Select dispatches the selection unless one is already pending.
func (m *SelectionManager) Select(ctx context.Context, roadmapID string) (SelectionResult, error) {
	roadmapID = strings.TrimSpace(roadmapID)
	if roadmapID == "" {
		return SelectionResult{}, invalidArgument("roadmapId is required")
	}

	m.mu.Lock()
	if m.inFlight {
		m.mu.Unlock()
		return SelectionResult{Ignored: true}, nil
	}
	m.inFlight = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight = false
		m.mu.Unlock()
	}()

	result, err := m.api.Select(ctx, roadmapID)
	if err != nil {
		return SelectionResult{}, classifyAPIError("select roadmap", err)
	}
	return SelectionResult{RoadmapID: result.SelectedRoadmapID}, nil
}
