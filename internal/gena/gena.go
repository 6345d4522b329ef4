// Package gena implements the eventing protocol's event-subscription engine:
// client-side SUBSCRIBE/RENEW/UNSUBSCRIBE lifecycle with auto-renewal,
// and server-side NOTIFY ingestion, dispatch, and the SEQ==0
// first-event race.
package gena

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jroosing/upnpkit/internal/threadpool"
	"github.com/jroosing/upnpkit/internal/timer"
	"github.com/jroosing/upnpkit/internal/transport"
	"github.com/jroosing/upnpkit/internal/uuidgen"
)

// EventKind identifies which user callback a GENA event carries.
type EventKind int

const (
	EventSubscriptionExpired EventKind = iota
	EventAutorenewalFailed
	EventReceived
)

// Event is delivered to the user callback.
type Event struct {
	Kind         EventKind
	Subscription *Subscription
	Properties   map[string]string // only set for EventReceived
	Seq          int
}

// Callback receives GENA lifecycle/NOTIFY events.
type Callback func(Event)

// Subscription is the data model's ClientSubscription.
type Subscription struct {
	SID         string // our locally-generated "uuid:..." identifier
	ActualSID   string // peer-assigned subscription id
	EventURL    string
	CallbackURL string
	TimeoutSec  int // 0 means infinite
	RenewTimerID int64
}

// Errors surfaced to callers (the error model: "invalid handle / invalid
// SID ... returned to caller, no side effects").
var (
	ErrBadResponse           = errors.New("gena: subscribe/renew not accepted")
	ErrUnsubscribeUnaccepted = errors.New("gena: unsubscribe not accepted")
	ErrBadSID                = errors.New("gena: unknown subscription id")
	ErrInvalidHandle         = errors.New("gena: invalid handle")
)

// Engine is the client-side subscription manager for one Handle: the
// set of subscriptions owned by a single client. The subscribe lock
// serializes SUBSCRIBE/RENEW against concurrent NOTIFY processing to
// resolve the SEQ==0 first-event race.
type Engine struct {
	mu            sync.RWMutex
	subscribeLock sync.Mutex

	bySID       map[string]*Subscription
	byActualSID map[string]*Subscription

	client   transport.Client
	timer    *timer.Thread
	pool     *threadpool.Pool
	sidGen   *uuidgen.Generator
	propsXML transport.PropertySetParser
	callback Callback

	AutoRenewGuard time.Duration
}

// NewEngine wires an Engine to its collaborators. The user callback is
// registered separately with SetCallback.
func NewEngine(client transport.Client, th *timer.Thread, pool *threadpool.Pool, sidGen *uuidgen.Generator) *Engine {
	return &Engine{
		bySID:          make(map[string]*Subscription),
		byActualSID:    make(map[string]*Subscription),
		client:         client,
		timer:          th,
		pool:           pool,
		sidGen:         sidGen,
		propsXML:       transport.XMLPropertySetParser{},
		AutoRenewGuard: 0,
	}
}

func (e *Engine) SetCallback(cb Callback) {
	e.mu.Lock()
	e.callback = cb
	e.mu.Unlock()
}

// Subscribe issues SUBSCRIBE to publisherURL with the given desired
// timeout (0 means infinite) and callback URL, per the eventing protocol.
func (e *Engine) Subscribe(ctx context.Context, publisherURL, callbackURL string, timeoutSec int) (*Subscription, error) {
	e.subscribeLock.Lock()
	defer e.subscribeLock.Unlock()

	headers := map[string]string{
		"CALLBACK": "<" + callbackURL + ">",
		"NT":       "upnp:event",
		"TIMEOUT":  renderTimeout(timeoutSec),
	}

	resp, err := e.client.Do(ctx, "SUBSCRIBE", publisherURL, headers, nil)
	if err != nil {
		return nil, fmt.Errorf("gena: subscribe request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return nil, ErrBadResponse
	}

	actualSID := resp.Get("SID")
	timeout := parseTimeout(resp.Get("TIMEOUT"))
	if actualSID == "" {
		return nil, ErrBadResponse
	}

	sub := &Subscription{
		SID:         e.sidGen.NewSID(),
		ActualSID:   actualSID,
		EventURL:    publisherURL,
		CallbackURL: callbackURL,
		TimeoutSec:  timeout,
	}

	e.mu.Lock()
	e.bySID[sub.SID] = sub
	e.byActualSID[sub.ActualSID] = sub
	e.mu.Unlock()

	e.armAutoRenew(sub)
	return sub, nil
}

// Renew re-issues SUBSCRIBE with only SID/TIMEOUT headers. On network
// failure the subscription is removed and its renew timer cancelled.
func (e *Engine) Renew(ctx context.Context, sid string) error {
	e.subscribeLock.Lock()
	defer e.subscribeLock.Unlock()

	e.mu.RLock()
	sub, ok := e.bySID[sid]
	e.mu.RUnlock()
	if !ok {
		return ErrBadSID
	}

	headers := map[string]string{
		"SID":     sub.ActualSID,
		"TIMEOUT": renderTimeout(sub.TimeoutSec),
	}

	resp, err := e.client.Do(ctx, "SUBSCRIBE", sub.EventURL, headers, nil)
	if err != nil {
		e.removeSubscription(sub)
		return fmt.Errorf("gena: renew request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		e.removeSubscription(sub)
		return ErrBadResponse
	}

	newActual := resp.Get("SID")
	if newActual == "" {
		newActual = sub.ActualSID
	}
	timeout := parseTimeout(resp.Get("TIMEOUT"))

	e.mu.Lock()
	delete(e.byActualSID, sub.ActualSID)
	sub.ActualSID = newActual
	sub.TimeoutSec = timeout
	e.byActualSID[sub.ActualSID] = sub
	e.mu.Unlock()

	if sub.RenewTimerID != 0 {
		_ = e.timer.Remove(sub.RenewTimerID)
		sub.RenewTimerID = 0
	}
	e.armAutoRenew(sub)
	return nil
}

// Unsubscribe issues UNSUBSCRIBE and removes the subscription record
// regardless of outcome, per the eventing protocol.
func (e *Engine) Unsubscribe(ctx context.Context, sid string) error {
	e.mu.RLock()
	sub, ok := e.bySID[sid]
	e.mu.RUnlock()
	if !ok {
		return ErrBadSID
	}

	if sub.RenewTimerID != 0 {
		_ = e.timer.Remove(sub.RenewTimerID)
	}

	headers := map[string]string{"SID": sub.ActualSID}
	resp, err := e.client.Do(ctx, "UNSUBSCRIBE", sub.EventURL, headers, nil)
	e.removeSubscription(sub)
	if err != nil {
		return fmt.Errorf("gena: unsubscribe request failed: %w", err)
	}
	if resp.StatusCode != 200 {
		return ErrUnsubscribeUnaccepted
	}
	return nil
}

func (e *Engine) removeSubscription(sub *Subscription) {
	e.mu.Lock()
	delete(e.bySID, sub.SID)
	delete(e.byActualSID, sub.ActualSID)
	e.mu.Unlock()
	if sub.RenewTimerID != 0 {
		_ = e.timer.Remove(sub.RenewTimerID)
		sub.RenewTimerID = 0
	}
}

// armAutoRenew schedules the auto-renew TimerEvent at
// TIMEOUT-AUTO_RENEW_GUARD, short-term, medium priority. Infinite-timeout
// subscriptions (TimeoutSec == 0) are never auto-renewed.
func (e *Engine) armAutoRenew(sub *Subscription) {
	if sub.TimeoutSec <= 0 {
		return
	}
	due := time.Duration(sub.TimeoutSec)*time.Second - e.AutoRenewGuard
	if due < 0 {
		due = 0
	}

	id, err := e.timer.ScheduleAfter(due, timer.ShortTerm, func(any) {
		e.onAutoRenew(sub.SID)
	}, nil, nil, threadpool.Med)
	if err != nil {
		return
	}
	sub.RenewTimerID = id
}

func (e *Engine) onAutoRenew(sid string) {
	e.mu.RLock()
	sub, ok := e.bySID[sid]
	cb := e.callback
	e.mu.RUnlock()
	if !ok {
		return
	}

	if e.AutoRenewGuard == 0 {
		e.removeSubscription(sub)
		if cb != nil {
			cb(Event{Kind: EventSubscriptionExpired, Subscription: sub})
		}
		return
	}

	if err := e.Renew(context.Background(), sid); err != nil {
		if !errors.Is(err, ErrBadSID) && !errors.Is(err, ErrInvalidHandle) && cb != nil {
			cb(Event{Kind: EventAutorenewalFailed, Subscription: sub})
		}
	}
}

func renderTimeout(sec int) string {
	if sec <= 0 {
		return "Second-infinite"
	}
	return "Second-" + strconv.Itoa(sec)
}

func parseTimeout(header string) int {
	if header == "" || strings.EqualFold(header, "Second-infinite") {
		return 0
	}
	idx := strings.IndexByte(header, '-')
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(header[idx+1:]))
	if err != nil {
		return 0
	}
	return n
}
