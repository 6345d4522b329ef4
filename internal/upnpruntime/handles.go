package upnpruntime

import (
	"context"
	"sync"

	"github.com/jroosing/upnpkit/internal/gena"
	"github.com/jroosing/upnpkit/internal/ssdp"
)

// ClientHandle is the data model's Handle (Client): the per-handle owner
// of a ClientSubscription list and an SsdpSearchArg list. Both lists
// are mirrors of state the GENA engine and ControlPoint already track
// internally (by SID and by search id, respectively) — ClientHandle
// exists so a caller can enumerate "everything owned by this handle"
// without reaching into either engine's private maps, matching the
// handle-scoped ownership the data model's table describes.
type ClientHandle struct {
	mu            sync.Mutex
	subscriptions []*gena.Subscription
	searchIDs     []int64
}

// Subscriptions returns a snapshot of the handle's active subscriptions.
func (c *ClientHandle) Subscriptions() []*gena.Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*gena.Subscription(nil), c.subscriptions...)
}

// Searches returns a snapshot of the handle's outstanding search ids.
func (c *ClientHandle) Searches() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.searchIDs...)
}

// DeviceHandle is the data model's Handle (Device): the per-handle owner
// of one DeviceRecord tree, plus the Advertiser registration index
// needed to unregister it later.
type DeviceHandle struct {
	Device   *ssdp.Device
	advIndex int
}

// RegisterClient allocates a new client handle with empty subscription
// and search lists.
func (r *Runtime) RegisterClient() int {
	return r.Handles.RegisterClient(&ClientHandle{})
}

// RegisterDevice registers d with the Advertiser and wraps it in a
// DeviceHandle stored under a new handle id.
func (r *Runtime) RegisterDevice(d *ssdp.Device) int {
	idx := r.Advertiser.RegisterDevice(d)
	return r.Handles.RegisterDevice(&DeviceHandle{Device: d, advIndex: idx})
}

// UnregisterDevice sends ssdp:byebye for the device registered under
// id and removes the handle.
func (r *Runtime) UnregisterDevice(id int, localHost string) error {
	rec, err := r.Handles.Device(id)
	if err != nil {
		return err
	}
	dh := rec.(*DeviceHandle)
	r.Advertiser.UnregisterDevice(dh.advIndex, localHost)
	r.Handles.Unregister(id)
	return nil
}

// Subscribe issues a GENA SUBSCRIBE on behalf of the client handle
// clientID and records the resulting subscription against it.
func (r *Runtime) Subscribe(ctx context.Context, clientID int, publisherURL, callbackURL string, timeoutSec int) (*gena.Subscription, error) {
	rec, err := r.Handles.Client(clientID)
	if err != nil {
		return nil, err
	}
	ch := rec.(*ClientHandle)

	sub, err := r.GENA.Subscribe(ctx, publisherURL, callbackURL, timeoutSec)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	ch.subscriptions = append(ch.subscriptions, sub)
	ch.mu.Unlock()
	return sub, nil
}

// Unsubscribe tears down sid and drops it from clientID's owned list,
// per the data model's "cancelling a subscription MUST cancel the timer
// ... exactly once" invariant (enforced inside gena.Engine itself).
func (r *Runtime) Unsubscribe(ctx context.Context, clientID int, sid string) error {
	rec, err := r.Handles.Client(clientID)
	if err != nil {
		return err
	}
	ch := rec.(*ClientHandle)

	err = r.GENA.Unsubscribe(ctx, sid)

	ch.mu.Lock()
	for i, s := range ch.subscriptions {
		if s.SID == sid {
			ch.subscriptions = append(ch.subscriptions[:i], ch.subscriptions[i+1:]...)
			break
		}
	}
	ch.mu.Unlock()
	return err
}

// Search issues an M-SEARCH on behalf of clientID and records the
// resulting search id against it.
func (r *Runtime) Search(clientID int, mx int, target string, cookie any) (int64, error) {
	rec, err := r.Handles.Client(clientID)
	if err != nil {
		return 0, err
	}
	ch := rec.(*ClientHandle)

	id, err := r.ControlPoint.SearchByTarget(mx, target, cookie)
	if err != nil {
		return 0, err
	}

	ch.mu.Lock()
	ch.searchIDs = append(ch.searchIDs, id)
	ch.mu.Unlock()
	return id, nil
}

// CancelSearch cancels searchID and drops it from clientID's owned list.
func (r *Runtime) CancelSearch(clientID int, searchID int64) error {
	rec, err := r.Handles.Client(clientID)
	if err != nil {
		return err
	}
	ch := rec.(*ClientHandle)

	r.ControlPoint.CancelSearch(searchID)

	ch.mu.Lock()
	for i, id := range ch.searchIDs {
		if id == searchID {
			ch.searchIDs = append(ch.searchIDs[:i], ch.searchIDs[i+1:]...)
			break
		}
	}
	ch.mu.Unlock()
	return nil
}
