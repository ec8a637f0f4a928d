// Package events publishes job-progress and pipeline notifications on Redis
// pub/sub channels. Publishing is best-effort: callers log failures and carry on.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"newface/discovery-service/internal/model"
)

// Channel names.
const (
	ChannelJobProgress    = "EVENT_JOB_PROGRESS"
	ChannelCandidateMoved = "EVENT_CANDIDATE_MOVED"
)

// JobProgress is published at every job checkpoint.
type JobProgress struct {
	Type               string          `json:"type"`
	JobID              string          `json:"jobId"`
	UserID             string          `json:"userId"`
	Status             model.JobStatus `json:"status"`
	CandidatesFound    int             `json:"candidatesFound"`
	CandidatesAnalyzed int             `json:"candidatesAnalyzed"`
	ErrorMessage       string          `json:"errorMessage,omitempty"`
}

// CandidateMoved is published when a candidate changes pipeline stage.
type CandidateMoved struct {
	Type        string                `json:"type"`
	CandidateID string                `json:"candidateId"`
	UserID      string                `json:"userId"`
	From        model.CandidateStatus `json:"from"`
	To          model.CandidateStatus `json:"to"`
}

// Publisher sends a JSON-encoded payload on a channel.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload any) error
}

// RedisPublisher publishes through a go-redis client.
type RedisPublisher struct {
	rdb *redis.Client
}

// NewRedisPublisher returns a Publisher backed by rdb.
func NewRedisPublisher(rdb *redis.Client) *RedisPublisher {
	return &RedisPublisher{rdb: rdb}
}

// Publish encodes payload and sends it on channel.
func (p *RedisPublisher) Publish(ctx context.Context, channel string, payload any) error {
	msg, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, msg).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Nop discards every event. It is used when REDIS_URL is not set.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, string, any) error { return nil }

// Message is one event captured by a Recorder.
type Message struct {
	Channel string
	Payload any
}

// Recorder keeps published events in memory.
type Recorder struct {
	mu   sync.Mutex
	msgs []Message
}

// Publish stores the event.
func (r *Recorder) Publish(_ context.Context, channel string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, Message{Channel: channel, Payload: payload})
	return nil
}

// Messages returns a copy of everything published so far.
func (r *Recorder) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Message(nil), r.msgs...)
}
