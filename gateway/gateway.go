// Package gateway exposes the engine over websocket: it authenticates
// inbound connections, routes frames to the right room coordinator, and
// carries the room's push lanes back to the client.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"boardsync/auth"
	"boardsync/domain"
	"boardsync/export"
	"boardsync/runtime"
)

var allowedOriginPrefixes = []string{
	"http://localhost",
	"http://127.0.0.1",
	"https://localhost",
	"https://127.0.0.1",
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" {
		return true
	}
	return lo.SomeBy(allowedOriginPrefixes, func(p string) bool {
		return strings.HasPrefix(origin, p)
	})
}}

type Config struct {
	JWTSecret       []byte
	SendBuffer      int
	CallTimeout     time.Duration
	SnapshotTimeout time.Duration
}

type Gateway struct {
	log      *slog.Logger
	manager  *runtime.Manager
	validate *validator.Validate
	cfg      Config
}

func New(log *slog.Logger, manager *runtime.Manager, cfg Config) *Gateway {
	return &Gateway{
		log:      log,
		manager:  manager,
		validate: validator.New(),
		cfg:      cfg,
	}
}

// Routes mounts the realtime endpoint, the PDF export and a health check.
func (g *Gateway) Routes(r *gin.Engine) {
	canvas := r.Group("/canvas")
	canvas.Use(g.authenticate)
	canvas.GET("/ws", g.connect)
	canvas.GET("/:canvasId/export.pdf", g.exportPDF)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// authenticate extracts the bearer token from the Authorization header or
// the token query parameter and resolves the participant identity from
// its claims. Token issuance is the auth service's business.
func (g *Gateway) authenticate(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := auth.ValidateToken(g.cfg.JWTSecret, token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.Set("participantId", claims.UserID)
	c.Set("displayName", claims.DisplayName)
	c.Next()
}

func (g *Gateway) connect(c *gin.Context) {
	participant := domain.Participant{
		ID:          c.GetString("participantId"),
		DisplayName: c.GetString("displayName"),
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.log.Warn("websocket upgrade failed", "error", err, "origin", c.Request.Header.Get("Origin"))
		return
	}
	defer ws.Close()

	// One connection id per socket so reconnects are distinguishable in logs.
	connLog := g.log.With("conn", uuid.NewString())
	conn := NewConn(ws, connLog, g.manager, g.validate, participant,
		g.cfg.SendBuffer, g.cfg.CallTimeout)

	// The write loop must be draining before anything is enqueued.
	go conn.writeLoop()
	conn.enqueue(WelcomeMessage{Type: "welcome", Participant: participant})
	conn.readLoop(c.Request.Context())
}

// exportPDF renders the current scene of a canvas to PDF. It reads a
// copy-on-read snapshot, so rendering a large canvas never blocks editing.
func (g *Gateway) exportPDF(c *gin.Context) {
	canvasID := c.Param("canvasId")
	room := g.manager.Room(c.Request.Context(), canvasID)

	ctx, cancel := context.WithTimeout(c.Request.Context(), g.cfg.SnapshotTimeout)
	defer cancel()
	snap, err := room.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "canvas unavailable"})
		return
	}

	c.Header("Content-Type", "application/pdf")
	c.Header("Content-Disposition", `attachment; filename="`+canvasID+`.pdf"`)
	if err := export.RenderPDF(snap, c.Writer); err != nil {
		g.log.Error("pdf export failed", "canvas", canvasID, "error", err)
	}
}
