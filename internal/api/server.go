package api

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/metromessages/metromsg/internal/bus"
	"github.com/metromessages/metromsg/internal/ingest"
	"github.com/metromessages/metromsg/internal/sms"
	"github.com/metromessages/metromsg/internal/status"
	"github.com/metromessages/metromsg/internal/store"
	"github.com/metromessages/metromsg/internal/unified"
)

// Server exposes the daemon's local HTTP+JSON API.
type Server struct {
	db         *store.DB
	cache      *unified.Cache
	classifier *sms.Classifier
	machine    *status.Machine
	reconciler *ingest.Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
	engine     *gin.Engine
}

// NewServer creates the API server and registers all routes.
func NewServer(db *store.DB, cache *unified.Cache, classifier *sms.Classifier, machine *status.Machine, reconciler *ingest.Reconciler, b *bus.Bus, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		db:         db,
		cache:      cache,
		classifier: classifier,
		machine:    machine,
		reconciler: reconciler,
		bus:        b,
		logger:     logger,
		engine:     gin.New(),
	}
	s.engine.Use(gin.Recovery())
	s.routes()
	return s
}

// Handler returns the HTTP handler for the daemon's listener.
func (s *Server) Handler() *gin.Engine {
	return s.engine
}

func (s *Server) routes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/broadcasts", s.handleBroadcast)

	v1.GET("/conversations", s.handleListConversations)
	v1.GET("/conversations/:id", s.handleGetConversation)
	v1.GET("/conversations/:id/messages", s.handleListMessages)
	v1.POST("/conversations/:id/read", s.handleMarkRead)
	v1.POST("/conversations/:id/archive", s.handleSetArchived)
	v1.POST("/conversations/:id/block", s.handleSetBlocked)
	v1.POST("/conversations/:id/mute", s.handleSetMuted)
	v1.DELETE("/conversations/:id", s.handleDeleteConversation)

	v1.GET("/contacts", s.handleListContacts)
	v1.GET("/contacts/:id", s.handleGetContact)
	v1.POST("/contacts/:id/star", s.handleStarContact)
	v1.POST("/contacts/refresh", s.handleRefreshContacts)
	v1.POST("/contacts/sync", s.handleSyncContacts)

	v1.POST("/messages", s.handleQueueMessage)
	v1.GET("/search", s.handleSearch)
	v1.GET("/status", s.handleStatus)
}
