package ssdp

// EventKind identifies which user callback an SSDP event carries,
// matching the discovery events named throughout the discovery protocol.
type EventKind int

const (
	EventAdvertisementAlive EventKind = iota
	EventAdvertisementByebye
	EventSearchResult
	EventSearchTimeout
)

// DiscoveryEvent is delivered to the control point's user callback,
// either from a matched advertisement/response (EventAdvertisementAlive,
// EventAdvertisementByebye, EventSearchResult) or from a search timing
// out (EventSearchTimeout).
type DiscoveryEvent struct {
	Kind       EventKind
	DeviceID   string // UDN, e.g. "uuid:X"
	DeviceType string
	ServiceType string
	Location   string
	Expires    int // CACHE-CONTROL max-age, seconds
	Cookie     any
}

// Callback receives discovery/search events. Invoked on a ThreadPool
// worker goroutine, never inline with packet processing.
type Callback func(DiscoveryEvent)

// SearchArg is the data model's SsdpSearchArg: one outstanding client
// search, matched against every inbound advertisement/response until
// it times out.
type SearchArg struct {
	ID            int64
	SearchTarget  string
	RequestType   RequestType
	Cookie        any
	TimeoutTimerID int64
}
