package amqp

import (
	"context"
	"log/slog"

	"registro/internal/model"
)

// Notifier adapts the AMQP client into a model listener: every committed
// mutation of the store publishes a store.changed message. Publish failures
// are logged and swallowed; a broken broker must not fail the mutation.
type Notifier struct {
	client *Client
}

var _ model.Listener = (*Notifier)(nil)

func NewNotifier(client *Client) *Notifier {
	return &Notifier{client: client}
}

func (n *Notifier) StateChanged(s *model.Store) {
	if n.client == nil {
		return
	}
	ctx := context.Background()
	transactions := len(s.Transactions())
	matched := len(s.MatchedFilterIndices())
	if err := n.client.PublishStoreChanged(ctx, transactions, matched); err != nil {
		slog.ErrorContext(ctx, "Failed to publish store changed message",
			"error", err,
			"transactions", transactions,
			"matched", matched)
	}
}
