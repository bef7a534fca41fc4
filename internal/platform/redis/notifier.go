package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bytedance/sonic"
	"github.com/phrazzld/moments-api/internal/config"
	"github.com/phrazzld/moments-api/internal/events"
	goredis "github.com/redis/go-redis/v9"
)

// Waker is nudged for every task created in another process.
type Waker interface {
	Wake()
}

// Connect opens a client for cfg.URL and verifies it with a PING.
func Connect(ctx context.Context, cfg config.RedisConfig) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

// Notifier publishes and receives TaskCreated events on one channel.
type Notifier struct {
	client  *goredis.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier on the given channel.
func NewNotifier(client *goredis.Client, channel string, logger *slog.Logger) *Notifier {
	if client == nil {
		panic("redis client cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		client:  client,
		channel: channel,
		logger:  logger.With(slog.String("component", "redis_notifier"), slog.String("channel", channel)),
	}
}

// HandleEvent implements events.EventHandler by publishing the event.
func (n *Notifier) HandleEvent(ctx context.Context, event *events.TaskCreatedEvent) error {
	msg, err := sonic.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := n.client.Publish(ctx, n.channel, msg).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Listen subscribes to the channel and wakes waker for every TaskCreated
// message until ctx is cancelled.
func (n *Notifier) Listen(ctx context.Context, waker Waker) error {
	sub := n.client.Subscribe(ctx, n.channel)
	defer func() {
		if err := sub.Close(); err != nil {
			n.logger.Debug("failed to close subscription", slog.String("error", err.Error()))
		}
	}()

	// The first reply confirms the subscription.
	if _, err := sub.Receive(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	n.logger.Info("listening for task notifications")

	messages := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			n.handleMessage(msg.Payload, waker)
		}
	}
}

func (n *Notifier) handleMessage(payload string, waker Waker) {
	var event events.TaskCreatedEvent
	if err := sonic.UnmarshalString(payload, &event); err != nil {
		n.logger.Warn("ignoring malformed notification", slog.String("error", err.Error()))
		return
	}
	if event.Type != events.TypeTaskCreated {
		n.logger.Debug("ignoring notification", slog.String("event_type", event.Type))
		return
	}

	n.logger.Debug("task created elsewhere", slog.String("task_id", event.TaskID.String()))
	waker.Wake()
}

var _ events.EventHandler = (*Notifier)(nil)
