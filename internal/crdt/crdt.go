// Package crdt is the CRDT Adapter: the only place in the server that knows
// the shape of a document's operations. Everything above this package deals
// exclusively in opaque UpdateBlob and StateVector values.
//
// The algorithm implemented here is a minimal grow-only interleaved op-log
// keyed by Lamport-style (counter, clientID) pairs - adequate to exercise
// every convergence property a production CRDT must satisfy (commutative,
// idempotent, order-independent merge) without depending on an external
// Yjs-compatible library, which the reference pack does not ship for Go.
package crdt

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Op is one committed operation in the log.
type Op struct {
	Counter  uint64
	ClientID uint64
	Payload  []byte
}

func (o Op) less(other Op) bool {
	if o.Counter != other.Counter {
		return o.Counter < other.Counter
	}
	return o.ClientID < other.ClientID
}

// UpdateBlob is an opaque, wire-ready encoding of zero or more Ops.
type UpdateBlob []byte

// StateVector is an opaque summary of the highest Counter seen per ClientID.
type StateVector []byte

// ChangeHandler is invoked once per committed Apply, with the blob that was
// applied and the origin tag the caller supplied.
type ChangeHandler func(blob UpdateBlob, origin string)

// Replica is one document's CRDT state.
type Replica struct {
	ops      []Op
	seen     map[opKey]struct{}
	maxByID  map[uint64]uint64
	handlers []ChangeHandler
}

type opKey struct {
	counter  uint64
	clientID uint64
}

// NewReplica returns an empty replica.
func NewReplica() *Replica {
	return &Replica{
		seen:    make(map[opKey]struct{}),
		maxByID: make(map[uint64]uint64),
	}
}

// OnChange registers a handler fired synchronously, once per committed
// Apply call, with the applied blob and its origin tag. Handlers run on the
// calling goroutine under whatever lock the caller is holding - they must
// not block or re-enter Apply.
func (r *Replica) OnChange(h ChangeHandler) {
	r.handlers = append(r.handlers, h)
}

// Apply decodes blob into Ops and commits any not already present. Ops
// already seen (by counter+clientID) are silently skipped, which is what
// makes Apply idempotent: applying the same blob twice has the same effect
// as applying it once.
func (r *Replica) Apply(blob UpdateBlob, origin string) error {
	ops, err := decodeOps(blob)
	if err != nil {
		return fmt.Errorf("decode update: %w", err)
	}

	changed := false
	for _, op := range ops {
		key := opKey{op.Counter, op.ClientID}
		if _, ok := r.seen[key]; ok {
			continue
		}
		r.seen[key] = struct{}{}
		r.ops = append(r.ops, op)
		if op.Counter > r.maxByID[op.ClientID] {
			r.maxByID[op.ClientID] = op.Counter
		}
		changed = true
	}
	if !changed {
		return nil
	}

	sort.Slice(r.ops, func(i, j int) bool { return r.ops[i].less(r.ops[j]) })

	for _, h := range r.handlers {
		h(blob, origin)
	}
	return nil
}

// StateVector encodes the highest Counter seen per ClientID.
func (r *Replica) StateVector() StateVector {
	ids := make([]uint64, 0, len(r.maxByID))
	for id := range r.maxByID {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var buf bytes.Buffer
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(ids)))
	buf.Write(tmp[:4])
	for _, id := range ids {
		binary.BigEndian.PutUint64(tmp[:], id)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint64(tmp[:], r.maxByID[id])
		buf.Write(tmp[:])
	}
	return StateVector(buf.Bytes())
}

// Size returns the byte length of the full document state as it would be
// encoded by EncodeDiff against an empty peer vector - the figure the Admin
// Surface reports for a document.
func (r *Replica) Size() int {
	return len(encodeOps(r.ops))
}

// EncodeDiff returns every op the peer (described by peerVector) lacks.
func (r *Replica) EncodeDiff(peerVector StateVector) (UpdateBlob, error) {
	peerMax, err := decodeStateVector(peerVector)
	if err != nil {
		return nil, fmt.Errorf("decode peer state vector: %w", err)
	}

	var missing []Op
	for _, op := range r.ops {
		if op.Counter > peerMax[op.ClientID] {
			missing = append(missing, op)
		}
	}
	return encodeOps(missing), nil
}

// IsEmptyUpdate reports whether blob encodes zero operations - callers use
// this to avoid sending an empty STEP2 reply.
func IsEmptyUpdate(blob UpdateBlob) bool {
	ops, err := decodeOps(blob)
	return err == nil && len(ops) == 0
}

// NewLocalOp builds a single-operation UpdateBlob for a locally originated
// edit. counter must be strictly greater than any counter this clientID has
// previously used.
func NewLocalOp(counter, clientID uint64, payload []byte) UpdateBlob {
	return encodeOps([]Op{{Counter: counter, ClientID: clientID, Payload: payload}})
}

func encodeOps(ops []Op) UpdateBlob {
	var buf bytes.Buffer
	var tmp [8]byte
	binary.BigEndian.PutUint32(tmp[:4], uint32(len(ops)))
	buf.Write(tmp[:4])
	for _, op := range ops {
		binary.BigEndian.PutUint64(tmp[:], op.Counter)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint64(tmp[:], op.ClientID)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint32(tmp[:4], uint32(len(op.Payload)))
		buf.Write(tmp[:4])
		buf.Write(op.Payload)
	}
	return UpdateBlob(buf.Bytes())
}

func decodeOps(blob UpdateBlob) ([]Op, error) {
	r := bytes.NewReader(blob)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		if len(blob) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("read op count: %w", err)
	}

	ops := make([]Op, 0, count)
	for i := uint32(0); i < count; i++ {
		var counter, clientID uint64
		var payloadLen uint32
		if err := binary.Read(r, binary.BigEndian, &counter); err != nil {
			return nil, fmt.Errorf("read op %d counter: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &clientID); err != nil {
			return nil, fmt.Errorf("read op %d clientID: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &payloadLen); err != nil {
			return nil, fmt.Errorf("read op %d payload length: %w", i, err)
		}
		payload := make([]byte, payloadLen)
		if _, err := bytesReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("read op %d payload: %w", i, err)
		}
		ops = append(ops, Op{Counter: counter, ClientID: clientID, Payload: payload})
	}
	return ops, nil
}

func decodeStateVector(sv StateVector) (map[uint64]uint64, error) {
	out := make(map[uint64]uint64)
	if len(sv) == 0 {
		return out, nil
	}
	r := bytes.NewReader(sv)
	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("read entry count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		var id, max uint64
		if err := binary.Read(r, binary.BigEndian, &id); err != nil {
			return nil, fmt.Errorf("read entry %d id: %w", i, err)
		}
		if err := binary.Read(r, binary.BigEndian, &max); err != nil {
			return nil, fmt.Errorf("read entry %d max: %w", i, err)
		}
		out[id] = max
	}
	return out, nil
}

func bytesReadFull(r *bytes.Reader, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
