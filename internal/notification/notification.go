package notification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// KindCreditsMinted indicates a purchase minted credits.
	KindCreditsMinted = "credits_minted"
	// KindCreditsRedeemed indicates a holder burned credits.
	KindCreditsRedeemed = "credits_redeemed"
	// KindSaleFinalized indicates the sale moved to its terminal phase.
	KindSaleFinalized = "sale_finalized"
	// KindCapSet indicates the owner replaced an account's purchase allowance.
	KindCapSet = "cap_set"
)

// Message describes a notification payload.
type Message struct {
	Kind        string    `json:"kind"`
	Destination string    `json:"destination,omitempty"`
	Amount      uint64    `json:"amount,omitempty"`
	TotalSupply uint64    `json:"total_supply"`
	At          time.Time `json:"at"`
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("kind", message.Kind),
		slog.String("destination", message.Destination),
		slog.Uint64("amount", message.Amount),
		slog.Uint64("total_supply", message.TotalSupply),
	)
	return nil
}

// RedisNotifier publishes JSON-encoded messages on a Redis channel.
type RedisNotifier struct {
	client  redis.UniversalClient
	channel string
}

// NewRedisNotifier constructs a publisher for channel.
func NewRedisNotifier(client redis.UniversalClient, channel string) *RedisNotifier {
	return &RedisNotifier{client: client, channel: channel}
}

// Send publishes the message.
func (n *RedisNotifier) Send(ctx context.Context, message Message) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return err
	}
	return n.client.Publish(ctx, n.channel, payload).Err()
}

// Fanout delivers each message to every notifier and joins their errors.
type Fanout []Notifier

// Send forwards the message to all notifiers, even after a failure.
func (f Fanout) Send(ctx context.Context, message Message) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
