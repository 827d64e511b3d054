// Package session implements the Session Orchestrator (C7): the HTTP
// upgrade endpoint that authenticates an inbound connection, resolves its
// Document Hub through the Registry, and runs the read/write pumps that
// bridge the Framed Transport to the Hub for the life of the connection.
package session

import (
	"encoding/base64"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/collabspace/collabd/internal/auth"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/hub"
	"github.com/collabspace/collabd/internal/logger"
	"github.com/collabspace/collabd/internal/registry"
	"github.com/collabspace/collabd/internal/transport"
)

const subprotocolPrefix = "auth."

const defaultDocumentID = "default"

var documentIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,100}$`)

// SanitizeDocumentID enforces the DocumentId alphabet (`[A-Za-z0-9_-]`) and
// 100-char length limit, coercing anything that doesn't match - including
// an empty path segment - to "default".
func SanitizeDocumentID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if documentIDPattern.MatchString(trimmed) {
		return trimmed
	}
	return defaultDocumentID
}

// Orchestrator wires an upgrade HTTP endpoint to the Registry and Auth Gate.
type Orchestrator struct {
	registry  *registry.Registry
	gate      *auth.Gate
	upgrader  websocket.Upgrader
	transport transport.Config
}

// Config configures the orchestrator's upgrade behaviour.
type Config struct {
	Transport transport.Config
	// CheckOrigin, when nil, accepts every origin - the teacher's services
	// sit behind a reverse proxy that enforces this instead.
	CheckOrigin func(r *http.Request) bool
}

// New builds an Orchestrator bound to reg and gate.
func New(reg *registry.Registry, gate *auth.Gate, cfg Config) *Orchestrator {
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}
	return &Orchestrator{
		registry:  reg,
		gate:      gate,
		transport: cfg.Transport,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// Handle is the gin handler for the document WebSocket endpoint, expected
// to be mounted at a path with a ":documentId" parameter.
func (o *Orchestrator) Handle(c *gin.Context) {
	documentID := SanitizeDocumentID(c.Param("documentId"))

	token := extractToken(c.Request)
	if token == "" {
		c.JSON(collaberrors.KindAuth.HTTPStatus(), gin.H{"error": "missing credential"})
		return
	}

	principal, err := o.gate.ValidateToken(token)
	if err != nil {
		c.JSON(collaberrors.KindAuth.HTTPStatus(), gin.H{"error": "invalid credential"})
		return
	}
	if !o.gate.MayOpen(principal, documentID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized to open this document"})
		return
	}

	h, err := o.registry.Get(c.Request.Context(), documentID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if ce, ok := err.(*collaberrors.CollabError); ok {
			if s := ce.Kind.HTTPStatus(); s != 0 {
				status = s
			}
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	ws, err := o.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.HTTP().Warn().Err(err).Str("document", documentID).Msg("websocket upgrade failed")
		return
	}

	conn := transport.New(ws, o.transport)
	client := newClient(conn)

	if _, err := h.Register(client); err != nil {
		ce, _ := err.(*collaberrors.CollabError)
		kind := collaberrors.KindCapacity
		if ce != nil {
			kind = ce.Kind
		}
		_ = conn.CloseWithKind(kind, err.Error())
		return
	}

	go conn.WritePump()

	readErr := conn.ReadPump(func(frame []byte) error {
		return h.HandleInbound(client, frame)
	})

	empty := h.Unregister(client)
	o.registry.Release(documentID, h)

	if readErr != nil {
		kind := classifyReadError(readErr)
		_ = conn.CloseWithKind(kind, readErr.Error())
	} else {
		_ = conn.Close()
	}

	logger.HTTP().Debug().
		Str("document", documentID).
		Str("user", principal.UserID).
		Bool("hub_now_empty", empty).
		Msg("session ended")
}

func classifyReadError(err error) collaberrors.Kind {
	if ce, ok := err.(*collaberrors.CollabError); ok {
		return ce.Kind
	}
	return collaberrors.KindPingTimeout
}

// extractToken reads the credential from the Authorization header, or from
// the "auth.<base64url(token)>" WebSocket subprotocol when a browser client
// cannot set arbitrary headers on the upgrade request.
func extractToken(r *http.Request) string {
	if authz := r.Header.Get("Authorization"); authz != "" {
		return strings.TrimPrefix(authz, "Bearer ")
	}
	const maxEncodedTokenLen = 1000
	for _, proto := range websocket.Subprotocols(r) {
		if strings.HasPrefix(proto, subprotocolPrefix) {
			encoded := strings.TrimPrefix(proto, subprotocolPrefix)
			if len(encoded) > maxEncodedTokenLen {
				return ""
			}
			decoded, err := base64.RawURLEncoding.DecodeString(encoded)
			if err != nil {
				return ""
			}
			return string(decoded)
		}
	}
	return ""
}

// client adapts a *transport.Conn to the hub.Client interface.
type client struct {
	conn *transport.Conn
	id   uint64
}

func newClient(conn *transport.Conn) *client {
	return &client{conn: conn}
}

func (c *client) ID() uint64      { return c.id }
func (c *client) SetID(id uint64) { c.id = id }

func (c *client) Enqueue(frame []byte) error {
	return c.conn.Enqueue(frame)
}

func (c *client) Close(kind collaberrors.Kind) {
	_ = c.conn.CloseWithKind(kind, string(kind))
}

var _ hub.Client = (*client)(nil)
