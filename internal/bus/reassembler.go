package bus

import (
	"sync"
	"time"

	"github.com/collabspace/collabd/internal/logger"
)

// reassembler collects chunked Envelopes sharing a MessageID until every
// chunk has arrived or the reassembly timeout elapses, at which point the
// partial set is discarded. This mirrors the spec's rule that a missing
// chunk does not wedge the Hub: the CRDT will reconcile on the next full
// sync instead.
type reassembler struct {
	mu      sync.Mutex
	pending map[string]*partial
	timeout time.Duration
}

type partial struct {
	template Envelope
	chunks   [][]byte
	received int
	expires  time.Time
}

func newReassembler(timeout time.Duration) *reassembler {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &reassembler{pending: make(map[string]*partial), timeout: timeout}
}

// Add feeds one chunk into the reassembler. It returns the fully reassembled
// payload and true once every chunk for that MessageID has arrived.
func (r *reassembler) Add(e Envelope) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	p, ok := r.pending[e.MessageID]
	if !ok {
		p = &partial{
			template: e,
			chunks:   make([][]byte, e.TotalChunks),
			expires:  time.Now().Add(r.timeout),
		}
		r.pending[e.MessageID] = p
	}

	if e.ChunkIndex < 0 || e.ChunkIndex >= len(p.chunks) {
		return nil, false
	}
	if p.chunks[e.ChunkIndex] == nil {
		p.chunks[e.ChunkIndex] = e.Payload
		p.received++
	}

	if p.received < len(p.chunks) {
		return nil, false
	}

	delete(r.pending, e.MessageID)
	var full []byte
	for _, c := range p.chunks {
		full = append(full, c...)
	}
	return full, true
}

func (r *reassembler) evictExpiredLocked() {
	now := time.Now()
	for id, p := range r.pending {
		if now.After(p.expires) {
			logger.Bus().Warn().
				Str("document", p.template.DocumentID).
				Str("messageId", id).
				Int("chunksReceived", p.received).
				Int("chunksExpected", len(p.chunks)).
				Msg("discarding incomplete chunked update after reassembly timeout")
			delete(r.pending, id)
		}
	}
}
