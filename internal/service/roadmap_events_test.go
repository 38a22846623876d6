package service

import (
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestBrokerEventPublisherPublishesToRedis(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sub := client.Subscribe(t.Context(), "gema:roadmap:events")
	t.Cleanup(func() { _ = sub.Close() })
	_, err = sub.Receive(t.Context())
	require.NoError(t, err)

	publisher := NewBrokerEventPublisher(client, nil, "gema.roadmap", zerolog.Nop())
	require.NoError(t, publisher.Publish(t.Context(), RoadmapEvent{
		Type:       EventCourseCompleted,
		SessionKey: "user:42",
		RoadmapID:  "r1",
		CourseID:   "go-101",
		Order:      1,
	}))

	select {
	case msg := <-sub.Channel():
		var event RoadmapEvent
		require.NoError(t, json.Unmarshal([]byte(msg.Payload), &event))
		require.Equal(t, EventCourseCompleted, event.Type)
		require.Equal(t, "user:42", event.SessionKey)
		require.Equal(t, 1, event.Order)
		require.NotEmpty(t, event.ID)
		require.False(t, event.SentAt.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestBrokerEventPublisherWithoutTransports(t *testing.T) {
	publisher := NewBrokerEventPublisher(nil, nil, "", zerolog.Nop())
	require.NoError(t, publisher.Publish(t.Context(), RoadmapEvent{Type: EventRoadmapReset}))
	require.NoError(t, NopEventPublisher().Publish(t.Context(), RoadmapEvent{}))
}
