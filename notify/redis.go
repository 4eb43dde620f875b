package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"tutorflow/dispute"
)

// StaffChannel carries every event for live staff dashboards.
const StaffChannel = "disputes:staff"

// UserChannel is the per-participant channel.
func UserChannel(userID string) string {
	return "disputes:user:" + userID
}

// ConnectRedis initializes a client from a redis:// URL or a host:port.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	var client *redis.Client
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		client = redis.NewClient(opt)
	} else {
		client = redis.NewClient(&redis.Options{Addr: redisURL})
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisSink pushes events to the learner, the tutor and the staff channel.
type RedisSink struct {
	client publisher
}

func NewRedisSink(client publisher) *RedisSink {
	return &RedisSink{client: client}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, event dispute.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	for _, channel := range channelsFor(event) {
		if err := s.client.Publish(ctx, channel, payload).Err(); err != nil {
			return fmt.Errorf("publish %s: %w", channel, err)
		}
	}
	return nil
}

func channelsFor(event dispute.Event) []string {
	channels := make([]string, 0, 3)
	if event.LearnerID != "" {
		channels = append(channels, UserChannel(event.LearnerID))
	}
	if event.TutorID != "" {
		channels = append(channels, UserChannel(event.TutorID))
	}
	return append(channels, StaffChannel)
}
