package ir

// EventKind names an observable fact recorded by the engine or dispatcher.
type EventKind string

const (
	EventQueryCreated     EventKind = "QueryCreated"
	EventResponseReceived EventKind = "ResponseReceived"
	EventQueriesTimedOut  EventKind = "QueriesTimedOut"
	EventMessagesRemoved  EventKind = "MessagesRemoved"
	EventCallbackExecuted EventKind = "CallbackExecuted"
	EventCallbackFailed   EventKind = "CallbackFailed"
	// EventWeightRefundErrored records a callback fee that could not be
	// settled after the callback ran.
	EventWeightRefundErrored EventKind = "WeightRefundErrored"
)

// Event is one entry of the event log.
//
// Attrs holds canonical-JSON-compatible values only (strings, integers,
// booleans, slices and maps of those).
type Event struct {
	ID    string         `json:"id"`
	Seq   int64          `json:"seq"`
	Kind  EventKind      `json:"kind"`
	Block BlockNumber    `json:"block"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// NewEvent builds an event and computes its content-addressed ID.
func NewEvent(kind EventKind, block BlockNumber, seq int64, attrs map[string]any) (Event, error) {
	id, err := EventID(kind, block, seq, attrs)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: id, Seq: seq, Kind: kind, Block: block, Attrs: attrs}, nil
}

// IDList converts handles to a canonical attribute value.
func IDList(ids []MessageID) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}
