// Package admin implements the Admin Surface (C9): a read-only HTTP API for
// operational visibility into the Document Registry, plus liveness and
// readiness probes.
package admin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/collabspace/collabd/internal/backplane"
	collaberrors "github.com/collabspace/collabd/internal/errors"
	"github.com/collabspace/collabd/internal/metrics"
	"github.com/collabspace/collabd/internal/middleware"
	"github.com/collabspace/collabd/internal/registry"
)

// Surface is the Admin Surface's router and dependencies.
type Surface struct {
	registry   *registry.Registry
	backplane  *backplane.Client
	instanceID string
	ready      func() bool
}

// New builds an Admin Surface bound to reg. backplane may be a disabled
// client (or nil) if cross-instance presence is not desired.
func New(reg *registry.Registry, bp *backplane.Client, instanceID string, ready func() bool) *Surface {
	return &Surface{registry: reg, backplane: bp, instanceID: instanceID, ready: ready}
}

// Router builds the gin.Engine serving the Admin Surface.
func (s *Surface) Router() *gin.Engine {
	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.StructuredLogger())
	router.Use(collaberrors.Recovery())
	router.Use(middleware.Timeout(middleware.DefaultTimeoutConfig()))

	router.GET("/healthz", s.healthz)
	router.GET("/readyz", s.readyz)
	router.GET("/stats", s.stats)
	router.GET("/documents", s.listDocuments)
	router.GET("/documents/:id", s.getDocument)
	router.POST("/documents/:id/force-remove", s.forceRemove)

	return router
}

func (s *Surface) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Surface) readyz(c *gin.Context) {
	if s.ready != nil && !s.ready() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Surface) stats(c *gin.Context) {
	snapshot := metrics.Global.Snapshot()
	summaries := s.registry.List()
	clients := 0
	for _, sum := range summaries {
		clients += sum.Clients
	}
	body := gin.H{
		"instanceId": s.instanceID,
		"hubs":       len(summaries),
		"clients":    clients,
		"bytes":      snapshot.BytesIn + snapshot.BytesOut,
		"bus": gin.H{
			"sent":   snapshot.BusPublishOK,
			"errors": snapshot.BusPublishFail,
		},
		"counters": snapshot,
	}

	if s.backplane != nil && s.backplane.Enabled() {
		presence, err := s.backplane.ListPresence(c.Request.Context())
		if err == nil {
			body["crossInstancePresence"] = presence
		}
	}

	c.JSON(http.StatusOK, body)
}

func (s *Surface) listDocuments(c *gin.Context) {
	summaries := s.registry.List()
	documents := make([]gin.H, 0, len(summaries))
	for id, sum := range summaries {
		documents = append(documents, gin.H{
			"id":               id,
			"clients":          sum.Clients,
			"awarenessEntries": sum.AwarenessEntries,
		})
	}
	c.JSON(http.StatusOK, gin.H{"documents": documents})
}

func (s *Surface) getDocument(c *gin.Context) {
	id := c.Param("id")
	sum, ok := s.registry.Describe(id)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "document not open on this instance"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"documentId": id,
		"clients":    sum.Clients,
		"size":       sum.Size,
		"lastActive": sum.LastActive,
	})
}

func (s *Surface) forceRemove(c *gin.Context) {
	id := c.Param("id")
	if err := s.registry.ForceRemove(id); err != nil {
		ce, ok := err.(*collaberrors.CollabError)
		if !ok {
			ce = collaberrors.Internal("force-remove failed", err)
		}
		collaberrors.AbortWithError(c, ce)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documentId": id, "removed": true})
}
