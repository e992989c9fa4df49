// Package v1 exposes the memory engine over HTTP. The surface is a thin
// translation layer: all behavior lives in the engine and the store.
package v1

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/haleyard/recall/internal/profile"
	"github.com/haleyard/recall/plugin/memory"
	"github.com/haleyard/recall/server/middleware"
	"github.com/haleyard/recall/store"
)

type APIV1Service struct {
	Profile *profile.Profile
	Store   *store.Store
	Memory  *memory.Service
}

func NewAPIV1Service(p *profile.Profile, st *store.Store, svc *memory.Service) *APIV1Service {
	return &APIV1Service{
		Profile: p,
		Store:   st,
		Memory:  svc,
	}
}

// RegisterRoutes mounts the v1 API under /api/v1.
func (s *APIV1Service) RegisterRoutes(e *echo.Echo) {
	limiter := middleware.NewRateLimiter(time.Second/10, 20)
	g := e.Group("/api/v1", limiter.Middleware())

	g.POST("/turns", s.recordTurn)
	g.GET("/sessions/:uid", s.getSession)
	g.POST("/sessions/:uid/context", s.assembleContext)

	g.POST("/notes", s.createNote)
	g.GET("/notes", s.listNotes)
	g.PATCH("/notes/:uid", s.updateNote)
	g.DELETE("/notes/:uid", s.deleteNote)

	g.GET("/consents", s.listConsents)
	g.POST("/consents/:uid/resolve", s.resolveConsent)

	g.GET("/contacts/:ref/memory", s.getContactMemory)
}
