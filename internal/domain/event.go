package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventItemAdded       EventType = "item_added"
	EventQuantityUpdated EventType = "quantity_updated"
	EventItemRemoved     EventType = "item_removed"
	EventSavedForLater   EventType = "saved_for_later"
	EventMovedToCart     EventType = "moved_to_cart"
	EventSavedRemoved    EventType = "saved_removed"
	EventCartCleared     EventType = "cart_cleared"
)

// Event describes one state change of a cart store. Cart and Saved are
// snapshots taken right after the change.
type Event struct {
	ID         uuid.UUID  `json:"id"`
	Type       EventType  `json:"type"`
	SessionID  string     `json:"session_id"`
	ItemID     ItemID     `json:"item_id,omitempty"`
	Cart       []LineItem `json:"cart"`
	Saved      []LineItem `json:"saved"`
	OccurredAt time.Time  `json:"occurred_at"`
}

func NewEvent(t EventType, sessionID string, itemID ItemID, cart, saved []LineItem) Event {
	return Event{
		ID:         uuid.New(),
		Type:       t,
		SessionID:  sessionID,
		ItemID:     itemID,
		Cart:       CloneItems(cart),
		Saved:      CloneItems(saved),
		OccurredAt: time.Now().UTC(),
	}
}
