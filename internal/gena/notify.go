package gena

import (
	"strconv"
	"strings"
	"time"
)

// NotifyStatus is the HTTP status the server-side ingress handler
// replies with.
type NotifyStatus int

const (
	StatusOK                  NotifyStatus = 200
	StatusBadRequest          NotifyStatus = 400
	StatusPreconditionFailed  NotifyStatus = 412
)

// notifyRaceRetryWindow bounds how long HandleNotify waits on the
// subscribe lock before giving up on the SEQ==0 first-event race
// (the eventing protocol: "briefly acquire the subscription write lock").
const notifyRaceRetryWindow = 200 * time.Millisecond

// HandleNotify implements the eventing protocol's NOTIFY ingress: header
// validation, body parsing, SID lookup (with the SEQ==0 first-event
// race retry), and EventReceived dispatch. headers must already be
// lower-cased keys, matching transport.NotifyTransaction.
func (e *Engine) HandleNotify(headers map[string]string, body []byte) NotifyStatus {
	sid := headers["sid"]
	seqStr := headers["seq"]
	nt := headers["nt"]
	nts := headers["nts"]

	if sid == "" || nt != "upnp:event" || nts != "upnp:propchange" {
		return StatusPreconditionFailed
	}
	seq, err := strconv.Atoi(strings.TrimSpace(seqStr))
	if err != nil {
		return StatusBadRequest
	}

	sub := e.lookupByActualSID(sid)
	if sub == nil {
		if seq != 0 {
			return StatusPreconditionFailed
		}
		// First-event race: an in-flight SUBSCRIBE may not have
		// published the record yet. Briefly take the subscribe lock
		// (which SUBSCRIBE/RENEW hold while talking to the peer) so
		// we retry only after it releases, then give up.
		locked := make(chan struct{})
		go func() {
			e.subscribeLock.Lock()
			e.subscribeLock.Unlock()
			close(locked)
		}()
		select {
		case <-locked:
		case <-time.After(notifyRaceRetryWindow):
		}
		sub = e.lookupByActualSID(sid)
		if sub == nil {
			return StatusPreconditionFailed
		}
	}

	props, err := e.propsXML.Parse(body)
	if err != nil {
		return StatusBadRequest
	}

	e.mu.RLock()
	cb := e.callback
	e.mu.RUnlock()
	if cb != nil {
		cb(Event{Kind: EventReceived, Subscription: sub, Properties: props, Seq: seq})
	}
	return StatusOK
}

func (e *Engine) lookupByActualSID(actualSID string) *Subscription {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.byActualSID[actualSID]
}
