// Package handle implements the process-wide handle table: a single
// map from an opaque integer handle to either a client or a device
// record, guarded by one mutex.
//
// A reader/writer lock was considered and rejected in favor of a
// plain sync.Mutex, since readers gain nothing from running in
// parallel for a map this small.
package handle

import (
	"errors"
	"sync"
)

// Kind identifies what a Handle was registered as.
type Kind int

const (
	// KindInvalid is returned for a handle id with no registered record.
	KindInvalid Kind = iota
	KindClient
	KindDevice
)

// ErrWrongKind is returned when a handle is looked up as the wrong kind.
var ErrWrongKind = errors.New("handle: registered as the other kind")

// ErrNotFound is returned when a handle id has no record.
var ErrNotFound = errors.New("handle: not found")

// Table is the process-wide handle registry.
type Table struct {
	mu      sync.Mutex
	nextID  int
	clients map[int]any
	devices map[int]any
}

// New creates an empty handle table.
func New() *Table {
	return &Table{
		clients: make(map[int]any),
		devices: make(map[int]any),
	}
}

// RegisterClient allocates a new handle id bound to record and marks
// it as a client handle.
func (t *Table) RegisterClient(record any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.clients[id] = record
	return id
}

// RegisterDevice allocates a new handle id bound to record and marks
// it as a device handle.
func (t *Table) RegisterDevice(record any) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	t.devices[id] = record
	return id
}

// Kind reports what id was registered as, or KindInvalid if unknown.
func (t *Table) Kind(id int) Kind {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.clients[id]; ok {
		return KindClient
	}
	if _, ok := t.devices[id]; ok {
		return KindDevice
	}
	return KindInvalid
}

// Client returns the record registered under id as a client handle.
// A handle registered as a device returns ErrWrongKind, matching the
// invariant in the data model that a client handle can never resolve as a
// device handle and vice versa.
func (t *Table) Client(id int) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.clients[id]; ok {
		return r, nil
	}
	if _, ok := t.devices[id]; ok {
		return nil, ErrWrongKind
	}
	return nil, ErrNotFound
}

// Device returns the record registered under id as a device handle.
func (t *Table) Device(id int) (any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.devices[id]; ok {
		return r, nil
	}
	if _, ok := t.clients[id]; ok {
		return nil, ErrWrongKind
	}
	return nil, ErrNotFound
}

// Unregister removes id from whichever table it belongs to. It is a
// no-op if id is unknown.
func (t *Table) Unregister(id int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, id)
	delete(t.devices, id)
}

// Clients returns a snapshot slice of every registered client record.
// Used by the SSDP engine to resolve "the" registered control point
// (the discovery protocol "resolve the single registered client handle").
func (t *Table) Clients() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]any, 0, len(t.clients))
	for _, r := range t.clients {
		out = append(out, r)
	}
	return out
}

// Devices returns a snapshot slice of every registered device record,
// in ascending handle-id order (the discovery protocol "enumerated in insertion
// order starting at start index" for the device-side M-SEARCH sweep).
func (t *Table) Devices() []DeviceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]DeviceEntry, 0, len(t.devices))
	for id, r := range t.devices {
		out = append(out, DeviceEntry{ID: id, Record: r})
	}
	sortDeviceEntries(out)
	return out
}

// DeviceEntry pairs a device handle id with its registered record.
type DeviceEntry struct {
	ID     int
	Record any
}

func sortDeviceEntries(entries []DeviceEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].ID < entries[j-1].ID; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}
