// Package bus implements the cross-instance publish/subscribe abstraction
// (C4). One topic per document carries a JSON Envelope per §4.4; delivery
// handlers never see a message this instance itself published.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/logger"
	"github.com/collabspace/collabd/internal/metrics"
)

// Handler processes a delivered Envelope. It is never called for an
// Envelope this instance published itself (echo suppression happens before
// Handler is invoked).
type Handler func(Envelope)

// Bus is the abstraction the Document Hub and Registry depend on.
type Bus interface {
	Publish(ctx context.Context, documentID string, kind EnvelopeKind, payload []byte, origin string) error
	Subscribe(documentID string, handler Handler) (Subscription, error)
	InstanceID() string
}

// Subscription is an active subscription to one document's topic.
type Subscription interface {
	Unsubscribe() error
}

// Config configures the NATS-backed Bus.
type Config struct {
	URL      string
	User     string
	Password string

	// Prefix namespaces topics, default "collab:".
	Prefix string
	// ChunkThreshold is the payload size above which a publish is split
	// into multiple chunked envelopes, default 64KiB.
	ChunkThreshold int
	// ChunkReassemblyTimeout bounds how long a partial chunk set is held
	// before being discarded, default 10s.
	ChunkReassemblyTimeout time.Duration
	// InstanceID identifies this process for echo suppression; a random
	// UUID is generated if empty.
	InstanceID string
}

func (c Config) withDefaults() Config {
	if c.Prefix == "" {
		c.Prefix = "collab:"
	}
	if c.ChunkThreshold <= 0 {
		c.ChunkThreshold = 64 * 1024
	}
	if c.ChunkReassemblyTimeout <= 0 {
		c.ChunkReassemblyTimeout = 10 * time.Second
	}
	if c.InstanceID == "" {
		c.InstanceID = uuid.NewString()
	}
	return c
}

// NATSBus is the production Bus backed by NATS core pub/sub.
type NATSBus struct {
	conn    *nats.Conn
	cfg     Config
	enabled bool

	reassemblers map[string]*reassembler
}

// New connects to NATS and returns a Bus. If cfg.URL is empty the bus comes
// up disabled: Publish is a no-op and Subscribe never delivers, matching
// the teacher's graceful-degrade-when-unreachable startup behaviour rather
// than failing the whole process.
func New(cfg Config) (*NATSBus, error) {
	cfg = cfg.withDefaults()
	log := logger.Bus()

	if cfg.URL == "" {
		log.Warn().Msg("bus URL not configured, running with bus disabled")
		return &NATSBus{cfg: cfg, enabled: false, reassemblers: map[string]*reassembler{}}, nil
	}

	opts := []nats.Option{
		nats.Name("collabd"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("bus reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("bus error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		log.Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect to bus, running disabled")
		return &NATSBus{cfg: cfg, enabled: false, reassemblers: map[string]*reassembler{}}, nil
	}

	log.Info().Str("url", conn.ConnectedUrl()).Msg("bus connected")
	return &NATSBus{conn: conn, cfg: cfg, enabled: true, reassemblers: map[string]*reassembler{}}, nil
}

func (b *NATSBus) InstanceID() string { return b.cfg.InstanceID }

func (b *NATSBus) topic(documentID string) string {
	return fmt.Sprintf("%sdoc:%s:updates", b.cfg.Prefix, documentID)
}

// Publish encodes payload into one or more Envelopes (chunking above
// ChunkThreshold) and publishes them to the document's topic. A failed
// publish is retried once, after a fixed 100ms pause, before surfacing
// ErrBusPublish.
func (b *NATSBus) Publish(ctx context.Context, documentID string, kind EnvelopeKind, payload []byte, origin string) error {
	if !b.enabled {
		return nil
	}

	messageID := newMessageID()
	chunks := splitChunks(payload, b.cfg.ChunkThreshold)
	topic := b.topic(documentID)

	for i, chunk := range chunks {
		env := Envelope{
			DocumentID:  documentID,
			Kind:        kind,
			Payload:     chunk,
			Origin:      origin,
			InstanceID:  b.cfg.InstanceID,
			MessageID:   messageID,
			Timestamp:   time.Now().UnixMilli(),
			Chunked:     len(chunks) > 1,
			ChunkIndex:  i,
			TotalChunks: len(chunks),
		}
		data, err := env.Encode()
		if err != nil {
			return collaberrors.Wrap(collaberrors.KindBusPublish, "encode envelope", err)
		}
		if err := b.publishWithRetry(ctx, topic, data); err != nil {
			metrics.Global.BusPublishFail()
			return collaberrors.BusPublish(err)
		}
		metrics.Global.BusPublishOK()
	}
	return nil
}

func (b *NATSBus) publishWithRetry(ctx context.Context, topic string, data []byte) error {
	err := b.conn.Publish(topic, data)
	if err == nil {
		return nil
	}

	backoff := 100 * time.Millisecond
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return b.conn.Publish(topic, data)
}

type natsSubscription struct {
	sub *nats.Subscription
}

func (s *natsSubscription) Unsubscribe() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// Subscribe subscribes to a document's topic. Envelopes originated by this
// instance are dropped before handler is invoked (echo suppression);
// chunked envelopes are reassembled before delivery.
func (b *NATSBus) Subscribe(documentID string, handler Handler) (Subscription, error) {
	if !b.enabled {
		return &natsSubscription{}, nil
	}

	topic := b.topic(documentID)
	ra := newReassembler(b.cfg.ChunkReassemblyTimeout)

	sub, err := b.conn.Subscribe(topic, func(msg *nats.Msg) {
		env, err := DecodeEnvelope(msg.Data)
		if err != nil {
			logger.Bus().Warn().Err(err).Str("topic", topic).Msg("dropping malformed bus envelope")
			return
		}
		if env.InstanceID == b.cfg.InstanceID {
			return
		}

		payload := env.Payload
		if env.Chunked {
			full, complete := ra.Add(env)
			if !complete {
				return
			}
			payload = full
		}

		env.Payload = payload
		handler(env)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	return &natsSubscription{sub: sub}, nil
}

// Close drains and closes the underlying NATS connection.
func (b *NATSBus) Close() {
	if b.conn == nil {
		return
	}
	b.conn.Drain()
	b.conn.Close()
}

func newMessageID() string {
	return uuid.NewString()
}
