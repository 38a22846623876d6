package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/noah-isme/gema-roadmap/internal/models"
)

// ErrStateNotFound indicates no persisted roadmap state exists for the session.
var ErrStateNotFound = errors.New("roadmap state not found")

// RoadmapStateRepository persists encoded per-session roadmap state.
type RoadmapStateRepository interface {
	Load(ctx context.Context, sessionKey string) ([]byte, error)
	Save(ctx context.Context, sessionKey string, payload []byte) error
	Delete(ctx context.Context, sessionKey string) error
}

type redisRoadmapStateRepository struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisRoadmapStateRepository stores state under "<prefix>:<session>". A zero ttl keeps keys indefinitely.
func NewRedisRoadmapStateRepository(client *redis.Client, prefix string, ttl time.Duration) RoadmapStateRepository {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "roadmap:state"
	}
	return &redisRoadmapStateRepository{client: client, prefix: prefix, ttl: ttl}
}

func (r *redisRoadmapStateRepository) key(sessionKey string) string {
	return r.prefix + ":" + sessionKey
}

func (r *redisRoadmapStateRepository) Load(ctx context.Context, sessionKey string) ([]byte, error) {
	payload, err := r.client.Get(ctx, r.key(sessionKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load roadmap state: %w", err)
	}
	return payload, nil
}

func (r *redisRoadmapStateRepository) Save(ctx context.Context, sessionKey string, payload []byte) error {
	if err := r.client.Set(ctx, r.key(sessionKey), payload, r.ttl).Err(); err != nil {
		return fmt.Errorf("save roadmap state: %w", err)
	}
	return nil
}

func (r *redisRoadmapStateRepository) Delete(ctx context.Context, sessionKey string) error {
	if err := r.client.Del(ctx, r.key(sessionKey)).Err(); err != nil {
		return fmt.Errorf("delete roadmap state: %w", err)
	}
	return nil
}

type gormRoadmapStateRepository struct {
	db *gorm.DB
}

// NewGormRoadmapStateRepository stores state in the roadmap_session_states table.
func NewGormRoadmapStateRepository(db *gorm.DB) RoadmapStateRepository {
	return &gormRoadmapStateRepository{db: db}
}

func (r *gormRoadmapStateRepository) Load(ctx context.Context, sessionKey string) ([]byte, error) {
	var row models.RoadmapSessionState
	err := r.db.WithContext(ctx).Where("session_key = ?", sessionKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load roadmap state: %w", err)
	}
	return []byte(row.Payload), nil
}

func (r *gormRoadmapStateRepository) Save(ctx context.Context, sessionKey string, payload []byte) error {
	row := models.RoadmapSessionState{SessionKey: sessionKey, Payload: payload}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("save roadmap state: %w", err)
	}
	return nil
}

func (r *gormRoadmapStateRepository) Delete(ctx context.Context, sessionKey string) error {
	if err := r.db.WithContext(ctx).Where("session_key = ?", sessionKey).Delete(&models.RoadmapSessionState{}).Error; err != nil {
		return fmt.Errorf("delete roadmap state: %w", err)
	}
	return nil
}
