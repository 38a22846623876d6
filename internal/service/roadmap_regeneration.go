package service

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

// ErrOrderBusy indicates a different operation holds the course slot.
var ErrOrderBusy = errors.New("another operation is in progress for this course")

const (
	orderOpRegenerate = "regenerate"
	orderOpComplete   = "complete"
)

// orderGuard serializes operations addressed to the same course order.
type orderGuard struct {
	mu      sync.Mutex
	holders map[int]string
}

func newOrderGuard() *orderGuard {
	return &orderGuard{holders: make(map[int]string)}
}

func (g *orderGuard) acquire(order int, op string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, busy := g.holders[order]; busy {
		if holder == orderOpRegenerate && op == orderOpRegenerate {
			return ErrRegenerationInProgress
		}
		return ErrOrderBusy
	}
	g.holders[order] = op
	return nil
}

func (g *orderGuard) release(order int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.holders, order)
}

func (g *orderGuard) holding(op string) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	orders := make([]int, 0, len(g.holders))
	for order, holder := range g.holders {
		if holder == op {
			orders = append(orders, order)
		}
	}
	sort.Ints(orders)
	return orders
}

// CourseRegenerator replaces one course upstream.
type CourseRegenerator interface {
	RegenerateCourse(ctx context.Context, input careerapi.RegenerateCourseInput) (careerapi.RegenerateCourseResult, error)
}

// RegenerationResult reports the course now occupying an order.
type RegenerationResult struct {
	Order       int    `json:"order"`
	NewCourseID string `json:"newCourseId"`
	AIUsed      bool   `json:"aiUsed"`
}

// RegenerationManager dispatches course regenerations, one per order at a time,
// and remembers the last failure for each order.
type RegenerationManager struct {
	api   CourseRegenerator
	guard *orderGuard

	mu     sync.Mutex
	errors map[int]string
}

func newRegenerationManager(api CourseRegenerator, guard *orderGuard) *RegenerationManager {
	return &RegenerationManager{api: api, guard: guard, errors: make(map[int]string)}
}

// Regenerate replaces the course at order. Precondition violations fail before dispatch.
// On success the order stays guarded until the caller invokes release, so the local swap
// lands before another operation can claim the slot.
func (m *RegenerationManager) Regenerate(ctx context.Context, roadmapID string, order int, reason string) (RegenerationResult, func(), error) {
	if roadmapID == "" {
		return RegenerationResult{}, nil, invalidArgument("roadmapId is required")
	}
	if order < 1 {
		return RegenerationResult{}, nil, invalidArgument("order must be a positive number, got %d", order)
	}
	if err := m.guard.acquire(order, orderOpRegenerate); err != nil {
		return RegenerationResult{}, nil, err
	}

	result, err := m.api.RegenerateCourse(ctx, careerapi.RegenerateCourseInput{RoadmapID: roadmapID, Order: order, Reason: reason})
	if err != nil {
		m.guard.release(order)
		err = classifyAPIError("regenerate course", err)
		m.setError(order, err.Error())
		return RegenerationResult{}, nil, err
	}
	m.setError(order, "")

	var once sync.Once
	release := func() { once.Do(func() { m.guard.release(order) }) }
	return RegenerationResult{Order: order, NewCourseID: result.NewCourseID, AIUsed: result.AIUsed}, release, nil
}

// InFlight reports whether order is being regenerated.
func (m *RegenerationManager) InFlight(order int) bool {
	for _, held := range m.guard.holding(orderOpRegenerate) {
		if held == order {
			return true
		}
	}
	return false
}

// InFlightOrders lists orders currently being regenerated.
func (m *RegenerationManager) InFlightOrders() []int {
	return m.guard.holding(orderOpRegenerate)
}

// Errors returns the last failure per order.
func (m *RegenerationManager) Errors() map[int]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int]string, len(m.errors))
	for order, msg := range m.errors {
		out[order] = msg
	}
	return out
}

func (m *RegenerationManager) setError(order int, msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg == "" {
		delete(m.errors, order)
		return
	}
	m.errors[order] = msg
}

func (m *RegenerationManager) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = make(map[int]string)
}
