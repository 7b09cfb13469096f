// Package notification delivers scanner alerts to external channels
// (Telegram, webhooks) and to the log.
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"gap-scanner/internal/dispatch"
	"gap-scanner/internal/model"
)

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert model.Alert) error
}

// sendTimeout bounds each outbound delivery so a slow channel cannot stall
// the dispatcher fan-out for long.
const sendTimeout = 10 * time.Second

// AsSubscriber adapts a Notifier into a dispatcher subscriber. Delivery
// errors are logged, never propagated.
func AsSubscriber(n Notifier) dispatch.Subscriber {
	log := slog.Default().With("component", "notification")
	return func(alert model.Alert) {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		defer cancel()
		if err := n.Send(ctx, alert); err != nil {
			log.Warn("alert delivery failed", "alert", alert.ID, "err", err)
		}
	}
}

// LogNotifier writes alerts to the structured log (useful for development).
type LogNotifier struct{}

// NewLogNotifier creates a log-based notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert model.Alert) error {
	slog.Info("ALERT",
		"id", alert.ID,
		"symbol", alert.Symbol,
		"type", alert.Type,
		"price", alert.Price,
		"hod", alert.HOD,
		"detail", alert.Detail,
		"historical", alert.Historical,
	)
	return nil
}

// summary renders the human-readable one-liner shared by outbound channels.
func summary(alert model.Alert) string {
	ts := time.UnixMilli(alert.TS).UTC().Format("15:04")
	return fmt.Sprintf("%s %s @ %.2f (HOD %.2f, gap %.1f%%, vol %d) [%sZ] %s",
		alert.Symbol, alert.Type, alert.Price, alert.HOD, alert.GapPercent, alert.Volume, ts, alert.Detail)
}
