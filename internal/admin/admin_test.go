package admin

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/collabspace/collabd/internal/backplane"
	"github.com/collabspace/collabd/internal/bus"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/registry"
)

func newTestSurface(t *testing.T) (*Surface, *registry.Registry) {
	b := bus.NewMemoryBus(bus.NewMemoryBroker(), "instance-a")
	bp, err := backplane.NewClient(backplane.Config{Enabled: false})
	require.NoError(t, err)
	reg := registry.New(b, bp, registry.Config{})
	return New(reg, bp, "instance-a", func() bool { return true }), reg
}

func TestHealthzAlwaysOK(t *testing.T) {
	s, _ := newTestSurface(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyzReflectsReadyFunc(t *testing.T) {
	b := bus.NewMemoryBus(bus.NewMemoryBroker(), "instance-a")
	reg := registry.New(b, nil, registry.Config{})
	s := New(reg, nil, "instance-a", func() bool { return false })
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestListDocumentsReflectsOpenHubs(t *testing.T) {
	s, reg := newTestSurface(t)
	_, err := reg.Get(context.Background(), "doc1")
	require.NoError(t, err)

	router := s.Router()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "doc1")
}

func TestGetDocumentMissingReturns404(t *testing.T) {
	s, _ := newTestSurface(t)
	router := s.Router()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/documents/nope", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestForceRemoveRejectsActiveClients(t *testing.T) {
	s, reg := newTestSurface(t)
	h, err := reg.Get(context.Background(), "doc1")
	require.NoError(t, err)
	_, err = h.Register(&stubClient{})
	require.NoError(t, err)

	router := s.Router()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/documents/doc1/force-remove", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusConflict, w.Code)
}

type stubClient struct{ id uint64 }

func (c *stubClient) ID() uint64           { return c.id }
func (c *stubClient) SetID(id uint64)      { c.id = id }
func (c *stubClient) Enqueue([]byte) error { return nil }
func (c *stubClient) Close(collaberrors.Kind) {}
