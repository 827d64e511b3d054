// Package hub implements the Document Hub (C5): the per-document actor
// owning the CRDT replica, the awareness table, and the set of locally
// connected clients. A Hub is a serialization domain guarded by a single
// exclusive lock. The lock is held only across in-memory bookkeeping and
// non-blocking per-client enqueues; Bus publishes always happen after the
// lock has been released.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/collabspace/collabd/internal/bus"
	"github.com/collabspace/collabd/internal/crdt"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/logger"
	"github.com/collabspace/collabd/internal/metrics"
	"github.com/collabspace/collabd/internal/syncproto"
)

const originBus = "bus"

// Client is a locally registered socket, as seen by the Hub.
type Client interface {
	// ID is assigned by the Hub on Register and is unique within the Hub.
	ID() uint64
	SetID(uint64)
	// Enqueue delivers one encoded frame to this client without blocking.
	Enqueue(frame []byte) error
	// Close disconnects the client with the given error kind.
	Close(kind collaberrors.Kind)
}

// Config tunes Hub capacity.
type Config struct {
	MaxClients int // 0 = unlimited
}

// Hub owns one document's live state.
type Hub struct {
	DocumentID string
	cfg        Config

	mu        sync.Mutex
	replica   *crdt.Replica
	awareness *crdt.Awareness
	clients   map[Client]struct{}
	controlBy map[Client]map[uint64]struct{}
	nextID    uint64

	// applySource and lastChanged are scratch state read by onReplicaChange;
	// both are only ever touched while mu is held by the same call chain
	// that invoked replica.Apply, so they need no separate synchronization.
	applySource Client
	lastChanged bool

	bus    bus.Bus
	busSub bus.Subscription

	clientCount int64 // atomic, mirrors len(clients) for lock-free reads
	lastActive  int64 // atomic, unix nano of the last client or bus activity
}

// New constructs a Hub for documentID and subscribes it to the Bus. The
// caller (the Registry) is responsible for unsubscribing via Close.
func New(documentID string, b bus.Bus, cfg Config) (*Hub, error) {
	h := &Hub{
		DocumentID: documentID,
		cfg:        cfg,
		replica:    crdt.NewReplica(),
		awareness:  crdt.NewAwareness(),
		clients:    make(map[Client]struct{}),
		controlBy:  make(map[Client]map[uint64]struct{}),
		bus:        b,
	}

	h.replica.OnChange(h.onReplicaChange)

	sub, err := b.Subscribe(documentID, h.HandleBus)
	if err != nil {
		return nil, err
	}
	h.busSub = sub
	h.touch()
	return h, nil
}

// ClientCount returns the number of currently registered clients without
// taking the Hub's lock.
func (h *Hub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}

// touch records the current time as the Hub's last activity, surfaced by
// the Admin Surface as DocumentInfo.lastActive.
func (h *Hub) touch() {
	atomic.StoreInt64(&h.lastActive, time.Now().UnixNano())
}

// LastActive returns the time of the most recent client or bus activity.
func (h *Hub) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&h.lastActive))
}

// Size returns the byte length of the document's full CRDT state.
func (h *Hub) Size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replica.Size()
}

// AwarenessCount returns the number of live awareness entries.
func (h *Hub) AwarenessCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.awareness.Len()
}

// Register adds client to the Hub, assigns its ClientId, and sends it the
// initial STEP1 handshake plus the current awareness snapshot.
func (h *Hub) Register(client Client) (uint64, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cfg.MaxClients > 0 && len(h.clients) >= h.cfg.MaxClients {
		return 0, collaberrors.HubFull(h.DocumentID)
	}

	h.touch()

	h.nextID++
	id := h.nextID
	client.SetID(id)
	h.clients[client] = struct{}{}
	h.controlBy[client] = make(map[uint64]struct{})
	atomic.StoreInt64(&h.clientCount, int64(len(h.clients)))

	step1 := syncproto.EncodeSyncFrame(syncproto.Step1(h.replica.StateVector()))
	_ = client.Enqueue(step1)

	if snapshot := h.awareness.Snapshot(); len(snapshot) > 0 {
		if frame, err := syncproto.EncodeAwarenessFrame(snapshot); err == nil {
			_ = client.Enqueue(frame)
		}
	}

	logger.Hub().Debug().Str("document", h.DocumentID).Uint64("client", id).Int("clients", len(h.clients)).Msg("client registered")
	return id, nil
}

// Unregister removes client, retracts any awareness entries it owned, and
// reports whether the Hub is now empty. The Registry's Release re-reads the
// client count itself before arming the idle timer.
func (h *Hub) Unregister(client Client) bool {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		empty := len(h.clients) == 0
		h.mu.Unlock()
		return empty
	}
	delete(h.clients, client)
	owned := h.controlBy[client]
	delete(h.controlBy, client)
	atomic.StoreInt64(&h.clientCount, int64(len(h.clients)))

	var update crdt.AwarenessUpdate
	if len(owned) > 0 {
		ids := make([]uint64, 0, len(owned))
		for id := range owned {
			ids = append(ids, id)
		}
		update = h.awareness.Remove(ids...)
		h.broadcastAwarenessLocked(update, client)
	}
	empty := len(h.clients) == 0
	h.mu.Unlock()

	if len(update) > 0 {
		h.publishAwareness(update)
	}
	return empty
}

// HandleInbound processes one frame received from client through the Sync
// Protocol state machine.
func (h *Hub) HandleInbound(client Client, frame []byte) error {
	metrics.Global.MessageIn(len(frame))
	h.touch()
	tag, body, err := syncproto.DecodeFrame(frame)
	if err != nil {
		return collaberrors.Protocol(err.Error())
	}

	switch tag {
	case syncproto.TagSync:
		return h.handleSync(client, body)
	case syncproto.TagAwareness:
		return h.handleAwareness(client, body)
	default:
		return collaberrors.Protocol("unknown frame tag")
	}
}

func (h *Hub) handleSync(client Client, body []byte) error {
	msg, err := syncproto.DecodeSync(body)
	if err != nil {
		return collaberrors.Protocol(err.Error())
	}

	switch msg.Kind {
	case syncproto.KindStep1:
		h.mu.Lock()
		diff, err := h.replica.EncodeDiff(msg.Vector)
		h.mu.Unlock()
		if err != nil {
			return collaberrors.Protocol(err.Error())
		}
		if crdt.IsEmptyUpdate(diff) {
			return nil
		}
		return client.Enqueue(syncproto.EncodeSyncFrame(syncproto.Step2(diff)))

	case syncproto.KindStep2, syncproto.KindUpdate:
		h.mu.Lock()
		h.applySource = client
		h.lastChanged = false
		err := h.replica.Apply(msg.Update, "client")
		changed := h.lastChanged
		h.applySource = nil
		h.mu.Unlock()
		if err != nil {
			return collaberrors.CorruptUpdate(err)
		}
		if changed {
			h.publishUpdate(msg.Update)
		}
		return nil

	default:
		return collaberrors.Protocol("unknown sync sub-kind")
	}
}

func (h *Hub) handleAwareness(client Client, body []byte) error {
	update, err := crdt.DecodeAwarenessUpdate(body)
	if err != nil {
		return collaberrors.Protocol(err.Error())
	}

	h.mu.Lock()
	changed, removed := h.awareness.Merge(update)
	if len(changed) > 0 {
		owned := h.controlBy[client]
		if owned == nil {
			owned = make(map[uint64]struct{})
			h.controlBy[client] = owned
		}
		for _, id := range changed {
			owned[id] = struct{}{}
		}
	}
	for _, id := range removed {
		if owned, ok := h.controlBy[client]; ok {
			delete(owned, id)
		}
	}
	affected := len(changed) + len(removed)
	var delta crdt.AwarenessUpdate
	if affected > 0 {
		delta = make(crdt.AwarenessUpdate, affected)
		for _, id := range changed {
			delta[id] = update[id]
		}
		for _, id := range removed {
			delta[id] = update[id]
		}
		h.broadcastAwarenessLocked(delta, client)
	}
	h.mu.Unlock()

	if affected > 0 {
		h.publishAwareness(delta)
	}
	return nil
}

// onReplicaChange is installed on the replica and fires synchronously from
// within replica.Apply, on whatever goroutine is holding h.mu. It must not
// block and must not touch the Bus - publishing happens after Apply's
// caller releases the lock.
func (h *Hub) onReplicaChange(blob crdt.UpdateBlob, origin string) {
	h.lastChanged = true
	h.broadcastLocked(syncproto.EncodeSyncFrame(syncproto.Update(blob)), h.applySource)
}

// broadcastLocked enqueues frame to every client except exclude (nil means
// no exclusion). Must be called with h.mu held.
func (h *Hub) broadcastLocked(frame []byte, exclude Client) {
	for c := range h.clients {
		if c == exclude {
			continue
		}
		if err := c.Enqueue(frame); err != nil {
			go c.Close(collaberrors.KindSlowConsumer)
			continue
		}
		metrics.Global.MessageOut(len(frame))
	}
}

func (h *Hub) broadcastAwarenessLocked(update crdt.AwarenessUpdate, exclude Client) {
	frame, err := syncproto.EncodeAwarenessFrame(update)
	if err != nil {
		logger.Hub().Warn().Err(err).Msg("failed to encode awareness update")
		return
	}
	h.broadcastLocked(frame, exclude)
}

func (h *Hub) publishUpdate(blob crdt.UpdateBlob) {
	if err := h.bus.Publish(context.Background(), h.DocumentID, bus.KindUpdate, blob, "client"); err != nil {
		logger.Hub().Warn().Err(err).Str("document", h.DocumentID).Msg("bus publish failed")
	}
}

func (h *Hub) publishAwareness(update crdt.AwarenessUpdate) {
	frame, err := crdt.EncodeAwarenessUpdate(update)
	if err != nil {
		return
	}
	if err := h.bus.Publish(context.Background(), h.DocumentID, bus.KindAwareness, frame, "client"); err != nil {
		logger.Hub().Warn().Err(err).Str("document", h.DocumentID).Msg("bus publish failed")
	}
}

// HandleBus processes an Envelope delivered from the Bus. Echo suppression
// for messages this instance itself published already happened inside the
// Bus implementation before HandleBus was ever called.
func (h *Hub) HandleBus(env bus.Envelope) {
	h.touch()
	switch env.Kind {
	case bus.KindUpdate:
		h.mu.Lock()
		h.applySource = nil
		err := h.replica.Apply(env.Payload, originBus)
		h.mu.Unlock()
		if err != nil {
			logger.Hub().Warn().Err(err).Str("document", h.DocumentID).Msg("dropping corrupt bus update")
		}

	case bus.KindAwareness:
		update, err := crdt.DecodeAwarenessUpdate(env.Payload)
		if err != nil {
			logger.Hub().Warn().Err(err).Str("document", h.DocumentID).Msg("dropping malformed bus awareness update")
			return
		}
		h.mu.Lock()
		h.awareness.Merge(update)
		h.broadcastAwarenessLocked(update, nil)
		h.mu.Unlock()
	}
}

// NotifyShutdown broadcasts a Control/ControlShutdown frame to every
// currently connected client, without closing any connection. Part of the
// Registry's drain sequence: clients get a chance to react before the
// deadline expires and sockets are actually closed.
func (h *Hub) NotifyShutdown() {
	h.mu.Lock()
	h.broadcastLocked(syncproto.EncodeControlFrame(syncproto.ControlShutdown), nil)
	h.mu.Unlock()
}

// CloseAll disconnects every currently connected client with kind. Part of
// the Registry's drain sequence, called once the drain deadline elapses.
func (h *Hub) CloseAll(kind collaberrors.Kind) {
	h.mu.Lock()
	clients := make([]Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		c.Close(kind)
	}
}

// Close unsubscribes the Hub from the Bus. The Registry calls this once
// every client has gone and the idle timer has fired.
func (h *Hub) Close() error {
	if h.busSub != nil {
		return h.busSub.Unsubscribe()
	}
	return nil
}
