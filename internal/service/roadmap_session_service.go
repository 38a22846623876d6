package service

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-roadmap/internal/observability"
	"github.com/noah-isme/gema-roadmap/pkg/careerapi"
)

const defaultSessionTTL = 30 * time.Minute

// sessionToken is a bearer source updated from each authenticated request.
type sessionToken struct {
	mu    sync.RWMutex
	token string
}

func (t *sessionToken) Token(context.Context) (string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.token, nil
}

func (t *sessionToken) set(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = strings.TrimSpace(token)
}

// RoadmapAPIFactory binds the career API to a session's credential.
type RoadmapAPIFactory func(tokens careerapi.TokenSource) RoadmapAPI

// ClientAPIFactory derives per-session clients that share client's transport.
func ClientAPIFactory(client *careerapi.Client) RoadmapAPIFactory {
	return func(tokens careerapi.TokenSource) RoadmapAPI {
		return client.WithTokenSource(tokens)
	}
}

// RoadmapSessionConfig tunes the session registry. Service is the template for every session.
type RoadmapSessionConfig struct {
	TTL time.Duration
	// CleanupInterval is how often idle sessions are swept. Zero derives it from TTL; negative disables the sweeper.
	CleanupInterval time.Duration
	Service         RoadmapServiceConfig
}

// RoadmapSessionService keeps one roadmap session per user and evicts idle ones.
type RoadmapSessionService interface {
	Session(ctx context.Context, userID, token string) (RoadmapService, error)
	Drop(userID string)
	Len() int
	Close()
}

type roadmapSession struct {
	service RoadmapService
	token   *sessionToken
}

type roadmapSessionService struct {
	factory  RoadmapAPIFactory
	deps     RoadmapServiceDeps
	cfg      RoadmapSessionConfig
	sessions *cache.Cache
	logger   zerolog.Logger

	mu sync.Mutex
}

// NewRoadmapSessionService constructs the registry.
func NewRoadmapSessionService(factory RoadmapAPIFactory, deps RoadmapServiceDeps, cfg RoadmapSessionConfig) RoadmapSessionService {
	if cfg.TTL <= 0 {
		cfg.TTL = defaultSessionTTL
	}
	cleanup := cfg.CleanupInterval
	if cleanup == 0 {
		cleanup = cfg.TTL / 2
		if cleanup > time.Minute {
			cleanup = time.Minute
		}
	}

	svc := &roadmapSessionService{
		factory:  factory,
		deps:     deps,
		cfg:      cfg,
		sessions: cache.New(cfg.TTL, cleanup),
		logger:   deps.Logger.With().Str("component", "roadmap_sessions").Logger(),
	}
	svc.sessions.OnEvicted(svc.evicted)
	return svc
}

// Session returns the caller's session, creating and restoring it on first use.
// Every call refreshes the session credential and its idle deadline.
func (s *roadmapSessionService) Session(ctx context.Context, userID, token string) (RoadmapService, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, invalidArgument("user id is required")
	}
	key := sessionKey(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, ok := s.sessions.Get(key); ok {
		session := cached.(*roadmapSession)
		session.token.set(token)
		s.sessions.SetDefault(key, session)
		return session.service, nil
	}

	// Get hides expired sessions that the sweeper has not closed yet.
	s.sessions.DeleteExpired()

	tokens := &sessionToken{}
	tokens.set(token)

	deps := s.deps
	deps.API = s.factory(tokens)
	cfg := s.cfg.Service
	cfg.SessionKey = key

	service := NewRoadmapService(deps, cfg)
	if err := service.Restore(ctx); err != nil {
		s.logger.Warn().Err(err).Str("session_key", key).Msg("failed to restore roadmap state")
	}

	s.sessions.SetDefault(key, &roadmapSession{service: service, token: tokens})
	observability.ActiveSessions().Inc()
	s.logger.Debug().Str("session_key", key).Msg("roadmap session opened")
	return service, nil
}

// Drop closes a user's session. Persisted state survives.
func (s *roadmapSessionService) Drop(userID string) {
	s.sessions.Delete(sessionKey(strings.TrimSpace(userID)))
}

func (s *roadmapSessionService) Len() int {
	s.sessions.DeleteExpired()
	return s.sessions.ItemCount()
}

func (s *roadmapSessionService) Close() {
	for key := range s.sessions.Items() {
		s.sessions.Delete(key)
	}
}

func (s *roadmapSessionService) evicted(key string, value any) {
	session, ok := value.(*roadmapSession)
	if !ok {
		return
	}
	session.service.Close()
	observability.ActiveSessions().Dec()
	s.logger.Debug().Str("session_key", key).Msg("roadmap session closed")
}

func sessionKey(userID string) string {
	return "user:" + userID
}
