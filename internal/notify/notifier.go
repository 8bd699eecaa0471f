package notify

import (
	"fmt"
	"log/slog"

	pubnub "github.com/pubnub/go"
)

// Notifier pushes purchase lifecycle events to per-buyer channels.
// A nil PubNub client turns every publish into a no-op, so callers
// never need to guard for disabled messaging.
type Notifier struct {
	pubnub *pubnub.PubNub
}

func New(pn *pubnub.PubNub) *Notifier {
	return &Notifier{pubnub: pn}
}

func (n *Notifier) PurchaseCommitted(buyerID, correlationID string, ticketIDs []string) {
	n.publish(buyerID, map[string]any{
		"type":           "purchase_committed",
		"correlation_id": correlationID,
		"ticket_ids":     ticketIDs,
	})
}

func (n *Notifier) PurchaseFailed(buyerID, correlationID, reason string) {
	n.publish(buyerID, map[string]any{
		"type":           "purchase_failed",
		"correlation_id": correlationID,
		"reason":         reason,
	})
}

func (n *Notifier) ReservationExpired(buyerID, reservationID string) {
	n.publish(buyerID, map[string]any{
		"type":           "reservation_expired",
		"reservation_id": reservationID,
	})
}

func (n *Notifier) publish(buyerID string, message map[string]any) {
	if n == nil || n.pubnub == nil {
		return
	}

	channel := fmt.Sprintf("buyer-%s", buyerID)
	_, _, err := n.pubnub.Publish().
		Channel(channel).
		Message(message).
		Execute()
	if err != nil {
		slog.Warn("pubnub publish failed", "channel", channel, "error", err)
	}
}
