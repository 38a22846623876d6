package service

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Roadmap lifecycle event types.
const (
	EventGenerationReady    = "generation.ready"
	EventGenerationTimedOut = "generation.timed_out"
	EventRoadmapSelected    = "roadmap.selected"
	EventCourseRegenerated  = "course.regenerated"
	EventCourseCompleted    = "course.completed"
	EventRoadmapReset       = "roadmap.reset"
)

// RoadmapEvent is published after each lifecycle transition.
type RoadmapEvent struct {
	ID         string         `json:"id"`
	Type       string         `json:"type"`
	SessionKey string         `json:"session_key"`
	RoadmapID  string         `json:"roadmap_id,omitempty"`
	CourseID   string         `json:"course_id,omitempty"`
	Order      int            `json:"order,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	SentAt     time.Time      `json:"sent_at"`
}

// EventPublisher fans roadmap events out to other services.
type EventPublisher interface {
	Publish(ctx context.Context, event RoadmapEvent) error
}

type nopEventPublisher struct{}

func (nopEventPublisher) Publish(context.Context, RoadmapEvent) error { return nil }

// NopEventPublisher discards events.
func NopEventPublisher() EventPublisher {
	return nopEventPublisher{}
}

type brokerEventPublisher struct {
	redis        *redis.Client
	redisChannel string
	nats         *nats.Conn
	natsSubject  string
	logger       zerolog.Logger
}

// NewBrokerEventPublisher publishes to a Redis channel and/or NATS subject derived from channelBase.
// Either transport may be nil.
func NewBrokerEventPublisher(redisClient *redis.Client, natsConn *nats.Conn, channelBase string, logger zerolog.Logger) EventPublisher {
	channelBase = strings.TrimSpace(channelBase)
	if channelBase == "" {
		channelBase = "gema:roadmap"
	}
	return &brokerEventPublisher{
		redis:        redisClient,
		redisChannel: strings.ReplaceAll(channelBase, ".", ":") + ":events",
		nats:         natsConn,
		natsSubject:  strings.ReplaceAll(channelBase, ":", ".") + ".events",
		logger:       logger.With().Str("component", "roadmap_events").Logger(),
	}
}

func (p *brokerEventPublisher) Publish(ctx context.Context, event RoadmapEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.SentAt.IsZero() {
		event.SentAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if p.redis != nil {
		if err := p.redis.Publish(ctx, p.redisChannel, payload).Err(); err != nil {
			return err
		}
	}

	if p.nats != nil {
		if err := p.nats.Publish(p.natsSubject+"."+event.Type, payload); err != nil {
			return err
		}
	}

	p.logger.Debug().Str("event", event.Type).Str("session_key", event.SessionKey).Msg("roadmap event published")
	return nil
}
