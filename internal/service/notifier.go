package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

type StockUpdate struct {
	SaleWindowID   uint   `json:"sale_window_id"`
	ItemID         string `json:"item_id"`
	RemainingStock int    `json:"remaining_stock"`
}

type PaymentResult struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

// Notifier fans realtime events out to subscribers. Delivery is
// fire-and-forget: the purchase path never fails because a notification
// could not be published.
type Notifier interface {
	PublishStockUpdate(ctx context.Context, update StockUpdate)
	PublishPaymentResult(ctx context.Context, userID uint, result PaymentResult)
}

type NoopNotifier struct{}

func NewNoopNotifier() *NoopNotifier { return &NoopNotifier{} }

func (*NoopNotifier) PublishStockUpdate(context.Context, StockUpdate)           {}
func (*NoopNotifier) PublishPaymentResult(context.Context, uint, PaymentResult) {}

type RedisNotifier struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisNotifier(client redis.UniversalClient, prefix string) *RedisNotifier {
	if prefix == "" {
		prefix = "events"
	}
	return &RedisNotifier{client: client, prefix: prefix}
}

func (n *RedisNotifier) PublishStockUpdate(ctx context.Context, update StockUpdate) {
	payload, err := json.Marshal(update)
	if err != nil {
		slog.WarnContext(ctx, "marshal stock update", "error", err)
		return
	}
	channel := fmt.Sprintf("%s:sale:%d", n.prefix, update.SaleWindowID)
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		slog.WarnContext(ctx, "publish stock update", "channel", channel, "error", err)
	}
}

func (n *RedisNotifier) PublishPaymentResult(ctx context.Context, userID uint, result PaymentResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		slog.WarnContext(ctx, "marshal payment result", "error", err)
		return
	}
	channel := fmt.Sprintf("%s:user:%d", n.prefix, userID)
	if err := n.client.Publish(ctx, channel, payload).Err(); err != nil {
		slog.WarnContext(ctx, "publish payment result", "channel", channel, "error", err)
	}
}
