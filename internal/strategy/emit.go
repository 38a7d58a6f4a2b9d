package strategy

import (
	"context"
	"log/slog"

	"github.com/guildtools/lootledger/internal/event"
)

// recordEvent appends the event durably and fans it out. Both writes are
// best-effort; the ledger transaction that preceded them already committed.
func recordEvent(ctx context.Context, logger *slog.Logger, events event.Store, publisher event.Publisher, e event.Event) {
	if err := events.Append(ctx, e); err != nil {
		logger.ErrorContext(ctx, "failed to append event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
	if err := publisher.Publish(ctx, e); err != nil {
		logger.ErrorContext(ctx, "failed to publish event", slog.String("type", string(e.Type)), slog.Any("error", err))
	}
}
