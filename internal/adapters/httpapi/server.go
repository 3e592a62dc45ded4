package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jose-valero/lfg-queue-bot/internal/app/service"
	"github.com/jose-valero/lfg-queue-bot/internal/domain"
)

type QueueLister interface {
	List(ctx context.Context, guildID string) ([]domain.Queue, error)
}

type MemberLister interface {
	List(ctx context.Context, guildID, name string) (domain.Queue, []service.MemberView, error)
}

type AttentionSource interface {
	ListAttentionIn(ctx context.Context, guildIDs []string, limit int) ([]domain.PendingOp, error)
}

type Deps struct {
	Log       *slog.Logger
	Token     string // vacío = /v1 apagado
	Queues    QueueLister
	Members   MemberLister
	Attention AttentionSource
	Gatherer  prometheus.Gatherer
}

// Server expone health, métricas y una vista read-only de colas para operadores.
type Server struct {
	log    *slog.Logger
	engine *gin.Engine
	http   *http.Server
	d      Deps
}

func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Gatherer == nil {
		d.Gatherer = prometheus.DefaultGatherer
	}
	s := &Server{log: d.Log, engine: gin.New(), d: d}
	s.engine.Use(gin.Recovery(), s.accessLog())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) { c.String(http.StatusOK, "ok") })
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.d.Gatherer, promhttp.HandlerOpts{})))

	v1 := s.engine.Group("/v1", s.auth())
	v1.GET("/guilds/:guild/queues", s.listQueues)
	v1.GET("/attention", s.listAttention)
}

func (s *Server) Handler() http.Handler { return s.engine }

// Start bloquea hasta Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	s.log.Info("🌐 HTTP listening", "addr", addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) auth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.d.Token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "ops api disabled"})
			return
		}
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.d.Token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("[http]", "method", c.Request.Method, "path", c.FullPath(), "status", c.Writer.Status(), "took", time.Since(start))
	}
}

type queueJSON struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	HandleID      string    `json:"handle_id"`
	HomeChannelID string    `json:"home_channel_id,omitempty"`
	Members       int       `json:"members"`
	CreatedAt     time.Time `json:"created_at"`
}

func (s *Server) listQueues(c *gin.Context) {
	guildID := c.Param("guild")
	qs, err := s.d.Queues.List(c.Request.Context(), guildID)
	if err != nil {
		s.log.Error("[http] list queues", "guild", guildID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	out := make([]queueJSON, 0, len(qs))
	for _, q := range qs {
		n := 0
		// la cola puede borrarse entre List y acá
		if _, members, err := s.d.Members.List(c.Request.Context(), guildID, q.Name); err == nil {
			n = len(members)
		}
		out = append(out, queueJSON{
			ID: q.ID, Name: q.Name, HandleID: q.Handle.ID, HomeChannelID: q.HomeChannelID,
			Members: n, CreatedAt: q.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"guild_id": guildID, "queues": out})
}

type pendingJSON struct {
	Kind      string    `json:"kind"`
	GuildID   string    `json:"guild_id"`
	QueueID   string    `json:"queue_id"`
	HandleID  string    `json:"handle_id,omitempty"`
	MemberID  string    `json:"member_id,omitempty"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toPendingJSON(ops []domain.PendingOp) []pendingJSON {
	out := make([]pendingJSON, 0, len(ops))
	for _, p := range ops {
		out = append(out, pendingJSON{
			Kind: p.Kind, GuildID: p.GuildID, QueueID: p.QueueID, HandleID: p.HandleID, MemberID: p.MemberID,
			Attempts: p.Attempts, LastError: p.LastError, UpdatedAt: p.UpdatedAt,
		})
	}
	return out
}

// listAttention: ?guild=a&guild=b filtra, sin guild trae todo.
func (s *Server) listAttention(c *gin.Context) {
	ops, err := s.d.Attention.ListAttentionIn(c.Request.Context(), c.QueryArray("guild"), 200)
	if err != nil {
		s.log.Error("[http] list attention", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ops": toPendingJSON(ops)})
}
