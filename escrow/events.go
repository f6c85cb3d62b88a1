package escrow

import (
	"strconv"
)

// Event is a structured protocol state change emitted after a transition
// transaction is accepted by the network.
type Event struct {
	Type       string
	Attributes map[string]string
}

// Emitter forwards events to downstream subscribers (daemons, indexers,
// UIs). Implementations must not block.
type Emitter interface {
	Emit(*Event)
}

// NoopEmitter satisfies Emitter while discarding all events.
type NoopEmitter struct{}

func (NoopEmitter) Emit(*Event) {}

const (
	EventTypeSought          = "escrow.sought"
	EventTypeBidPlaced       = "escrow.bid_placed"
	EventTypeBountyIncreased = "escrow.bounty_increased"
	EventTypeCancelled       = "escrow.cancelled"
	EventTypeBidAccepted     = "escrow.bid_accepted"
	EventTypeBidUnwound      = "escrow.bid_unwound"
	EventTypeWorkStarted     = "escrow.work_started"
	EventTypeWorkCompleted   = "escrow.work_completed"
	EventTypeApproved        = "escrow.approved"
	EventTypeDisputed        = "escrow.disputed"
	EventTypeDecided         = "escrow.decided"
	EventTypeClaimed         = "escrow.claimed"
	EventTypeReclaimed       = "escrow.reclaimed"
	EventTypeReconstituted   = "escrow.reconstituted"
)

// NewTransitionEvent renders the canonical payload for a state transition:
// the transaction that performed it, the method, and the successor record
// when the escrow continues.
func NewTransitionEvent(eventType string, method Method, txid string, next *Record) *Event {
	attrs := map[string]string{
		"txid":   txid,
		"method": method.String(),
	}
	if next != nil {
		attrs["state"] = next.State.String()
		attrs["seeker"] = next.Seeker.Short()
		attrs["bounty"] = strconv.FormatUint(next.Bounty, 10)
		attrs["deadline"] = strconv.FormatUint(next.Deadline, 10)
		attrs["bids"] = strconv.Itoa(len(next.Bids))
		if !next.Furnisher.IsZero() {
			attrs["furnisher"] = next.Furnisher.Short()
		}
		if next.Resolution != nil {
			attrs["seekerShare"] = strconv.FormatUint(next.Resolution.AmountForSeeker, 10)
			attrs["furnisherShare"] = strconv.FormatUint(next.Resolution.AmountForFurnisher, 10)
		}
	}
	return &Event{Type: eventType, Attributes: attrs}
}
