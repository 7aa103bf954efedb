// Package httpapi is the operational HTTP surface: health, metrics and read-only views.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"booking_reminder_bot/internal/app"
	"booking_reminder_bot/internal/domain/conversation"
)

const (
	maxHistoryLimit = 500
	shutdownTimeout = 10 * time.Second
)

// Backend is what the handlers read from. *app.AdminService implements it.
type Backend interface {
	Status(ctx context.Context) (*app.StatusReport, error)
	ConversationHistory(ctx context.Context, customerID int64, limit int) ([]*conversation.Message, error)
}

type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	backend    Backend
	log        *logrus.Entry
	startTime  time.Time
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

type MessageResponse struct {
	ID            string    `json:"id"`
	CustomerID    int64     `json:"customer_id"`
	AppointmentID *int64    `json:"appointment_id,omitempty"`
	Direction     string    `json:"direction"`
	Channel       string    `json:"channel"`
	Text          string    `json:"text"`
	CreatedAt     time.Time `json:"created_at"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func NewServer(addr string, backend Backend, gatherer prometheus.Gatherer, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(requestLogger(log))

	s := &Server{
		engine:    engine,
		backend:   backend,
		log:       log,
		startTime: time.Now(),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := engine.Group("/api")
	{
		api.GET("/status", s.handleStatus)
		api.GET("/conversations/:customer_id", s.handleConversation)
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func requestLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		if c.FullPath() == "/health" || c.FullPath() == "/metrics" {
			return
		}
		log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(s.startTime).Truncate(time.Second).String(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	st, err := s.backend.Status(c.Request.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to collect status")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"active_records":        st.ActiveRecords,
		"deleted_records":       st.DeletedRecords,
		"sent_reminders":        st.SentReminders,
		"pending_confirmations": st.PendingConfirmations,
		"seeded":                st.Seeded,
		"generated_at":          st.GeneratedAt.UTC(),
	})
}

func (s *Server) handleConversation(c *gin.Context) {
	customerID, err := strconv.ParseInt(c.Param("customer_id"), 10, 64)
	if err != nil || customerID <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "customer_id must be a positive integer"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit <= 0 || limit > maxHistoryLimit {
			c.JSON(http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("limit must be between 1 and %d", maxHistoryLimit)})
			return
		}
	}

	msgs, err := s.backend.ConversationHistory(c.Request.Context(), customerID, limit)
	if err != nil {
		s.log.WithError(err).WithField("customer_id", customerID).Error("Failed to load conversation")
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "conversation unavailable"})
		return
	}

	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		r := MessageResponse{
			ID:         m.ID.String(),
			CustomerID: m.CustomerID,
			Direction:  string(m.Direction),
			Channel:    m.Channel,
			Text:       m.Text,
			CreatedAt:  m.CreatedAt.UTC(),
		}
		if m.AppointmentID.Valid {
			id := m.AppointmentID.Int64
			r.AppointmentID = &id
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"customer_id": customerID, "messages": out})
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", s.httpServer.Addr).Info("HTTP server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	s.log.Info("HTTP server stopped")
	return nil
}
