// Package metrics holds the process-wide counters surfaced by the Admin
// Surface's /stats endpoint. No ecosystem metrics library is wired in:
// the teacher's own stack does not pull one in either, and wiring
// Prometheus client_golang here only to back six counters would add a
// dependency with no other consumer in this codebase.
package metrics

import "sync/atomic"

// Counters is a set of process-wide atomic counters.
type Counters struct {
	messagesIn  int64
	messagesOut int64
	bytesIn     int64
	bytesOut    int64
	busPublishOK   int64
	busPublishFail int64
}

// Global is the process-wide counter set.
var Global Counters

func (c *Counters) MessageIn(bytes int)  { atomic.AddInt64(&c.messagesIn, 1); atomic.AddInt64(&c.bytesIn, int64(bytes)) }
func (c *Counters) MessageOut(bytes int) { atomic.AddInt64(&c.messagesOut, 1); atomic.AddInt64(&c.bytesOut, int64(bytes)) }
func (c *Counters) BusPublishOK()        { atomic.AddInt64(&c.busPublishOK, 1) }
func (c *Counters) BusPublishFail()      { atomic.AddInt64(&c.busPublishFail, 1) }

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	MessagesIn     int64 `json:"messagesIn"`
	MessagesOut    int64 `json:"messagesOut"`
	BytesIn        int64 `json:"bytesIn"`
	BytesOut       int64 `json:"bytesOut"`
	BusPublishOK   int64 `json:"busPublishOk"`
	BusPublishFail int64 `json:"busPublishFail"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MessagesIn:     atomic.LoadInt64(&c.messagesIn),
		MessagesOut:    atomic.LoadInt64(&c.messagesOut),
		BytesIn:        atomic.LoadInt64(&c.bytesIn),
		BytesOut:       atomic.LoadInt64(&c.bytesOut),
		BusPublishOK:   atomic.LoadInt64(&c.busPublishOK),
		BusPublishFail: atomic.LoadInt64(&c.busPublishFail),
	}
}
