package core

// EventManager (C5) is the event log: monotonic IDs derived from
// `height << 32`, stored under `/events/<id>` with supporting `/events_count`
// and `/latest_event_id` counters, and filterable listing capped at 100
// entries (spec §4.3). Grounded on this file's original EventManager
// (mutex-guarded, ledger-backed, deterministic-ID emit/list/get), replacing
// its sha256-digest IDs and ad hoc network broadcast with the spec's
// height-derived sequence and pure storage-backed listing.

import (
	"encoding/binary"
	"strconv"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

const maxEventListing = 100

// EventID is a 32-byte monotonic identifier: the low 8 bytes hold
// (height << 32 | sequence-within-height), left-padded with zeroes so IDs
// sort alongside 32-byte hashes.
type EventID [32]byte

func NewEventID(height uint64, seq uint32) EventID {
	var id EventID
	binary.BigEndian.PutUint64(id[24:], (height<<32)|uint64(seq))
	return id
}

func (id EventID) Bytes() []byte { return id[:] }

func (id EventID) Uint64() uint64 { return binary.BigEndian.Uint64(id[24:]) }

func (id EventID) Height() uint64 { return id.Uint64() >> 32 }

// Event is one ledger-anchored notification.
type Event struct {
	ID         EventID           `cbor:"0,keyasint"`
	Kind       string            `cbor:"1,keyasint"`
	Account    Address           `cbor:"2,keyasint,omitempty"`
	Height     uint64            `cbor:"3,keyasint"`
	Timestamp  time.Time         `cbor:"4,keyasint"`
	Attributes map[string]string `cbor:"5,keyasint,omitempty"`
	Data       []byte            `cbor:"6,keyasint,omitempty"`
}

// EventManager persists events in a Ledger's storage.
type EventManager struct {
	mu     sync.Mutex
	ledger *Ledger
	height uint64
	seq    uint32
}

var (
	evtOnce sync.Once
	evtMgr  *EventManager
)

// NewEventManager builds an EventManager over l, restoring the height and
// the next unused sequence number from the ID last persisted under
// /latest_event_id.
func NewEventManager(l *Ledger) *EventManager {
	m := &EventManager{ledger: l}
	if v, err := l.GetState([]byte("/latest_event_id")); err == nil && len(v) == 32 {
		var id EventID
		copy(id[:], v)
		m.height = id.Height()
		m.seq = uint32(id.Uint64()) + 1
	}
	return m
}

// InitEvents initialises the global event manager backed by the given
// ledger, restoring height/sequence from storage. Kept for callers that
// want a single process-wide instance; App wiring uses NewEventManager
// directly so each App gets its own manager bound to its own ledger.
func InitEvents(l *Ledger) {
	evtOnce.Do(func() {
		evtMgr = NewEventManager(l)
	})
}

// Events returns the active global event manager.
func Events() *EventManager { return evtMgr }

// ResetHeight advances the manager to a new block height, resetting the
// within-height sequence counter (spec §4.3).
func (m *EventManager) ResetHeight(height uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.height = height
	m.seq = 0
}

func eventKey(id EventID) []byte { return append([]byte("/events/"), id.Bytes()...) }

// Emit records an event at the manager's current height and returns its ID.
func (m *EventManager) Emit(kind string, account Address, attributes map[string]string, data []byte) (EventID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := NewEventID(m.height, m.seq)
	m.seq++

	ev := Event{ID: id, Kind: kind, Account: account, Height: m.height, Timestamp: time.Now().UTC(), Attributes: attributes, Data: data}
	blob, err := ledgerCBOR.Marshal(ev)
	if err != nil {
		return EventID{}, err
	}
	if err := m.ledger.SetState(eventKey(id), blob); err != nil {
		return EventID{}, err
	}
	if err := m.ledger.SetState([]byte("/latest_event_id"), id.Bytes()); err != nil {
		return EventID{}, err
	}
	count, _ := m.ledger.GetState([]byte("/events_count"))
	var buf [8]byte
	putBeUint64(buf[:], beUint64(count)+1)
	if err := m.ledger.SetState([]byte("/events_count"), buf[:]); err != nil {
		return EventID{}, err
	}
	return id, nil
}

// EventFilter narrows EventManager.List's result set. A zero value matches
// everything.
type EventFilter struct {
	Kind          string
	Account       Address
	FromHeight    uint64
	ToHeight      uint64 // 0 means unbounded
	FromTime      time.Time
	ToTime        time.Time
	AttributeKey  string
	AttributeVal  string
	Limit         int // capped at maxEventListing
}

func (f EventFilter) matches(ev Event) bool {
	if f.Kind != "" && ev.Kind != f.Kind {
		return false
	}
	if f.Account != (Address{}) && !f.Account.Matches(ev.Account) {
		return false
	}
	if ev.Height < f.FromHeight {
		return false
	}
	if f.ToHeight != 0 && ev.Height > f.ToHeight {
		return false
	}
	if !f.FromTime.IsZero() && ev.Timestamp.Before(f.FromTime) {
		return false
	}
	if !f.ToTime.IsZero() && ev.Timestamp.After(f.ToTime) {
		return false
	}
	if f.AttributeKey != "" && ev.Attributes[f.AttributeKey] != f.AttributeVal {
		return false
	}
	return true
}

// List returns events matching filter in ascending ID order, capped at
// maxEventListing (or filter.Limit, if smaller and positive).
func (m *EventManager) List(filter EventFilter) ([]Event, error) {
	limit := maxEventListing
	if filter.Limit > 0 && filter.Limit < limit {
		limit = filter.Limit
	}
	it, err := m.ledger.PrefixIterator([]byte("/events/"))
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []Event
	for ; it.Valid(); it.Next() {
		var ev Event
		if err := cbor.Unmarshal(it.Value(), &ev); err != nil {
			continue
		}
		if !filter.matches(ev) {
			continue
		}
		out = append(out, ev)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// Get retrieves a single event by ID.
func (m *EventManager) Get(id EventID) (Event, error) {
	raw, err := m.ledger.GetState(eventKey(id))
	if err != nil {
		return Event{}, NewReason(CodeKeyNotFound, "event {id} not found", map[string]string{"id": strconv.FormatUint(id.Uint64(), 10)})
	}
	var ev Event
	if err := cbor.Unmarshal(raw, &ev); err != nil {
		return Event{}, err
	}
	return ev, nil
}

// Count returns the total number of events ever emitted.
func (m *EventManager) Count() (uint64, error) {
	v, err := m.ledger.GetState([]byte("/events_count"))
	if err != nil {
		return 0, nil
	}
	return beUint64(v), nil
}
