package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BioHazard786/huddle/internal/presence"
	"github.com/BioHazard786/huddle/internal/protocol"
	"github.com/BioHazard786/huddle/internal/roomid"
	"github.com/BioHazard786/huddle/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  64 * 1024,
	WriteBufferSize: 64 * 1024,

	// Rooms are open by invite link, there is no origin to enforce.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	r.GET("/health", s.health)
	r.GET("/ws", s.serveWs)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	api := r.Group("/api")
	api.POST("/rooms", s.createRoom)
	api.GET("/rooms/:roomId/presence", s.roomPresence)

	r.GET("/groups/join/:roomId", s.roomPresence)
	return r
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if c.Request.URL.Path == "/health" || c.Request.URL.Path == "/metrics" {
			return
		}
		s.log.Debug("request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "client", c.ClientIP())
	}
}

func (s *Server) health(c *gin.Context) {
	c.String(http.StatusOK, "huddle server is healthy.")
}

// serveWs upgrades the connection and hands the client to the hub.
func (s *Server) serveWs(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn("failed to upgrade connection", "err", err)
		return
	}

	client := newClient(s.hub, conn)
	select {
	case s.hub.Register <- client:
	case <-s.done:
		conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump(s.done)
}

func (s *Server) createRoom(c *gin.Context) {
	ctx := c.Request.Context()
	id, err := roomid.NewUnused(func(id string) (bool, error) {
		prefix, err := store.RoomPrefix(id)
		if err != nil {
			return true, nil
		}
		entries, err := s.store.List(ctx, prefix)
		return len(entries) > 0, err
	})
	if err != nil {
		s.log.Error("create room", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not allocate a room"})
		return
	}
	c.JSON(http.StatusCreated, protocol.RoomInfo{
		RoomID:       id,
		InviteLink:   s.cfg.InviteLink(id),
		Participants: []protocol.Participant{},
	})
}

// roomPresence serves both the presence API and the invite landing.
func (s *Server) roomPresence(c *gin.Context) {
	room := c.Param("roomId")
	tracker, err := presence.New(s.store, room, presence.WithStaleAfter(s.cfg.StaleAfter), presence.WithLogger(s.log))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid room id"})
		return
	}
	roster, err := tracker.Snapshot(c.Request.Context())
	if err != nil {
		s.log.Error("read presence", "room", room, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "presence unavailable"})
		return
	}

	active := tracker.Active(roster)
	info := protocol.RoomInfo{
		RoomID:       room,
		InviteLink:   s.cfg.InviteLink(room),
		Participants: make([]protocol.Participant, 0, len(active)),
	}
	for _, id := range active.IDs() {
		rec := active[id]
		info.Participants = append(info.Participants, protocol.Participant{
			ID: id, Name: rec.Name, AudioOnly: rec.AudioOnly, LastSeen: rec.LastSeen,
		})
	}
	c.JSON(http.StatusOK, info)
}
