// Package events publishes bridge state transitions and operator alerts.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/pkg/store"
)

const (
	// ChannelBridgeEvents carries one JSON message per job transition.
	ChannelBridgeEvents = "investments:bridge_events"
	// ChannelAlerts carries plain-text operator alerts.
	ChannelAlerts = "telegram:alerts"
)

// BridgeEvent is the wire format published on ChannelBridgeEvents.
type BridgeEvent struct {
	JobID int64          `json:"job_id"`
	State string         `json:"state"`
	Data  map[string]any `json:"data"`
	TS    string         `json:"ts"`
}

// Publisher fans bridge events out over Redis pub/sub.
type Publisher struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewPublisher creates a new event publisher
func NewPublisher(rdb *redis.Client, logger *zap.Logger) *Publisher {
	return &Publisher{rdb: rdb, logger: logger}
}

// PublishTransition publishes a job state change with the fields the
// transition populated.
func (p *Publisher) PublishTransition(ctx context.Context, jobID int64, state store.State, data map[string]any) error {
	if data == nil {
		data = map[string]any{}
	}
	event := BridgeEvent{
		JobID: jobID,
		State: string(state),
		Data:  data,
		TS:    time.Now().UTC().Format(time.RFC3339),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal bridge event: %w", err)
	}

	if err := p.rdb.Publish(ctx, ChannelBridgeEvents, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish bridge event: %w", err)
	}

	p.logger.Debug("Published bridge event",
		zap.Int64("job_id", jobID),
		zap.String("state", string(state)))
	return nil
}

// Alert publishes a plain-text message on the operator alert channel.
func (p *Publisher) Alert(ctx context.Context, message string) error {
	if err := p.rdb.Publish(ctx, ChannelAlerts, message).Err(); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}
	p.logger.Warn("Operator alert", zap.String("message", message))
	return nil
}
