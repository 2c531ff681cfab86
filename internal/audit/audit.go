package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"clanledger.org/internal/ids"
	"clanledger.org/internal/obs"
)

var ErrInvalidInput = errors.New("audit: invalid input")

// Action taxonomy. One event per logical mutation: a multi-entry claim
// approval emits one REQUEST_DECISION plus one ENTRY_CREATE_FROM_REQUEST
// per created entry.
const (
	ActionRequestCreate        = "REQUEST_CREATE"
	ActionRequestDecision      = "REQUEST_DECISION"
	ActionEntryCreate          = "ENTRY_CREATE"
	ActionEntryCreateFromClaim = "ENTRY_CREATE_FROM_REQUEST"
	ActionEntryUpdate          = "ENTRY_UPDATE"
	ActionEntryDelete          = "ENTRY_DELETE"
	ActionEntryPayment         = "ENTRY_PAYMENT"
	ActionRoleChange           = "ROLE_CHANGE"
	ActionRoleDefine           = "ROLE_DEFINE"
	ActionRoleDelete           = "ROLE_DELETE"
	ActionUserBlock            = "USER_BLOCK"
	ActionUserUnblock          = "USER_UNBLOCK"
	ActionPriceChange          = "PRICE_CHANGE"
)

// Event is one append-only audit row. Before and After are opaque
// serialized snapshots; rows are never mutated or deleted.
type Event struct {
	ID         string          `json:"id"`
	ActorID    string          `json:"actor_id"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type"`
	TargetID   string          `json:"target_id"`
	Before     json.RawMessage `json:"before,omitempty"`
	After      json.RawMessage `json:"after,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Filter bounds a listing. Limit is capped at MaxPageSize.
type Filter struct {
	ActorID string
	Limit   int
}

const MaxPageSize = 200

// Recorder appends audit events. Implementations must never let a
// recording failure propagate into the triggering business result: the
// mutation has already committed by the time Record runs.
type Recorder interface {
	Record(ctx context.Context, event Event) error
	List(ctx context.Context, filter Filter) ([]Event, error)
}

// New builds an event, serializing before/after snapshots. A nil
// snapshot stays empty (e.g. deletes carry only a before image).
func New(actorID, action, targetType, targetID string, before, after any) (Event, error) {
	action = strings.TrimSpace(action)
	if action == "" {
		return Event{}, errors.New("audit: action is required")
	}
	event := Event{
		ID:         ids.New(),
		ActorID:    strings.TrimSpace(actorID),
		Action:     action,
		TargetType: strings.TrimSpace(targetType),
		TargetID:   strings.TrimSpace(targetID),
		CreatedAt:  time.Now().UTC(),
	}
	var err error
	if before != nil {
		if event.Before, err = json.Marshal(before); err != nil {
			return Event{}, err
		}
	}
	if after != nil {
		if event.After, err = json.Marshal(after); err != nil {
			return Event{}, err
		}
	}
	return event, nil
}

// Record builds the event and hands it to the recorder. Failures are
// logged and swallowed: the caller's mutation has already succeeded and
// must not unwind.
func Record(ctx context.Context, rec Recorder, actorID, action, targetType, targetID string, before, after any) {
	event, err := New(actorID, action, targetType, targetID, before, after)
	if err != nil {
		obs.LogEvent(map[string]any{
			"level": "error", "msg": "audit event build failed",
			"action": action, "error": err.Error(),
		})
		return
	}
	if err := rec.Record(ctx, event); err != nil {
		obs.LogEvent(map[string]any{
			"level": "error", "msg": "audit write failed",
			"action": action, "target_id": targetID, "error": err.Error(),
		})
	}
}

// Memory keeps events in process. Used in tests to assert on emitted
// events without a real store.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Record(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *Memory) List(ctx context.Context, filter Filter) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var out []Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		if filter.ActorID != "" && m.events[i].ActorID != filter.ActorID {
			continue
		}
		out = append(out, m.events[i])
	}
	return out, nil
}

// Events returns a copy of everything recorded so far, oldest first.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// LogRecorder writes events as JSON log lines through obs. It backs the
// service when no durable store is configured.
type LogRecorder struct{}

func (LogRecorder) Record(ctx context.Context, event Event) error {
	entry := map[string]any{
		"ts":          event.CreatedAt.Format(time.RFC3339Nano),
		"type":        "audit",
		"event":       event.Action,
		"actor_id":    event.ActorID,
		"target_type": event.TargetType,
		"target_id":   event.TargetID,
	}
	if len(event.Before) > 0 {
		entry["before"] = json.RawMessage(event.Before)
	}
	if len(event.After) > 0 {
		entry["after"] = json.RawMessage(event.After)
	}
	obs.LogEvent(entry)
	return nil
}

func (LogRecorder) List(ctx context.Context, filter Filter) ([]Event, error) {
	return nil, errors.New("audit: log recorder does not support listing")
}
