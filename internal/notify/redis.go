package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Channel names consumed by dashboards and the worker.
const (
	ChannelApprovals = "comptoir.approvals"
	ChannelBackorder = "comptoir.backorders"
)

// RedisPublisher publishes events as JSON on Redis pub/sub channels.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedisPublisher wraps an existing client.
func NewRedisPublisher(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

// PublishApproval sends an approval outcome.
func (p *RedisPublisher) PublishApproval(ctx context.Context, evt ApprovalEvent) error {
	return p.publish(ctx, ChannelApprovals, evt)
}

// PublishBackorderAlert sends a back-order alert.
func (p *RedisPublisher) PublishBackorderAlert(ctx context.Context, alert BackorderAlert) error {
	return p.publish(ctx, ChannelBackorder, alert)
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("notify: publish %s: %w", channel, err)
	}
	return nil
}

// MemoryPublisher records events in memory. Tests and single-process setups
// use it in place of Redis.
type MemoryPublisher struct {
	Approvals []ApprovalEvent
	Alerts    []BackorderAlert
}

func (p *MemoryPublisher) PublishApproval(ctx context.Context, evt ApprovalEvent) error {
	p.Approvals = append(p.Approvals, evt)
	return nil
}

func (p *MemoryPublisher) PublishBackorderAlert(ctx context.Context, alert BackorderAlert) error {
	p.Alerts = append(p.Alerts, alert)
	return nil
}
