package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/contacts"
	"github.com/MarcoPoloResearchLab/celebrations/backend/internal/metrics"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	errorMissingRequiredFields = "Missing required fields"
	errorInvalidRequestBody    = "Invalid request body"
	errorInvalidEventDate      = "Invalid event date"
	errorPayloadTooLarge       = "Payload too large"
	errorInternal              = "Internal server error"

	probeKindHealth = "health"
	healthStatusOK  = "ok"
	healthDegraded  = "degraded"

	maxContactBodyBytes = 100 << 10
)

var errMissingContactService = errors.New("contact service dependency required")

// ContactSubmitter persists validated submissions.
type ContactSubmitter interface {
	Submit(ctx context.Context, submission contacts.Submission) (contacts.Receipt, error)
}

// DatabaseProber reports database reachability and pool usage for the health endpoint.
type DatabaseProber interface {
	Probe(ctx context.Context) (time.Duration, error)
	Stats() sql.DBStats
}

// KeepAliveStatus reports whether the background keep-alive is scheduled.
type KeepAliveStatus interface {
	Running() bool
}

type Dependencies struct {
	ContactService ContactSubmitter
	Database       DatabaseProber
	InsertStats    *contacts.InsertStats
	KeepAlive      KeepAliveStatus
	Metrics        *metrics.Recorder
	ExposeMetrics  bool
	AllowedOrigins []string
	Logger         *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.ContactService == nil {
		return nil, errMissingContactService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(deps.AllowedOrigins))
	router.Use(requestIDMiddleware())
	router.Use(requestLoggingMiddleware(logger))
	router.Use(deps.Metrics.Middleware())

	handler := &httpHandler{
		contacts:  deps.ContactService,
		database:  deps.Database,
		stats:     deps.InsertStats,
		keepAlive: deps.KeepAlive,
		metrics:   deps.Metrics,
		logger:    logger,
	}

	router.POST("/api/contact", handler.handleContactSubmission)
	router.GET("/api/health", handler.handleHealth)
	if deps.ExposeMetrics && deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	return router, nil
}

type httpHandler struct {
	contacts  ContactSubmitter
	database  DatabaseProber
	stats     *contacts.InsertStats
	keepAlive KeepAliveStatus
	metrics   *metrics.Recorder
	logger    *zap.Logger
}

type contactRequestPayload struct {
	FullName   string          `json:"fullName"`
	Email      string          `json:"email"`
	Phone      string          `json:"phone"`
	EventType  string          `json:"eventType"`
	EventDate  string          `json:"eventDate"`
	GuestCount json.RawMessage `json:"guestCount"`
	Message    string          `json:"message"`
}

func (p contactRequestPayload) input() contacts.SubmissionInput {
	return contacts.SubmissionInput{
		FullName:   p.FullName,
		Email:      p.Email,
		Phone:      p.Phone,
		EventType:  p.EventType,
		EventDate:  p.EventDate,
		GuestCount: p.GuestCount,
		Message:    p.Message,
	}
}

type contactResponsePayload struct {
	Success bool  `json:"success"`
	ID      int64 `json:"id"`
}

func (h *httpHandler) handleContactSubmission(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxContactBodyBytes)

	var request contactRequestPayload
	// An empty body decodes as io.EOF and is reported as missing fields.
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		h.logger.Debug("contact payload rejected", zap.Error(err))
		h.metrics.RecordContactSubmission(metrics.OutcomeRejected)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": errorPayloadTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequestBody})
		return
	}

	submission, err := contacts.ParseSubmission(request.input())
	if err != nil {
		h.logger.Debug("contact submission invalid", zap.Error(err))
		h.metrics.RecordContactSubmission(metrics.OutcomeRejected)
		c.JSON(http.StatusBadRequest, gin.H{"error": validationMessage(err)})
		return
	}

	receipt, err := h.contacts.Submit(c.Request.Context(), submission)
	if err != nil {
		// The service already logged the coded error.
		h.logger.Debug("failed to store contact submission", zap.Error(err))
		h.metrics.RecordContactSubmission(metrics.OutcomeFailed)
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
		return
	}

	h.metrics.RecordContactSubmission(metrics.OutcomeAccepted)
	h.logger.Debug("contact submission accepted", zap.Int64("id", receipt.ID))
	c.JSON(http.StatusCreated, contactResponsePayload{Success: true, ID: receipt.ID})
}

func validationMessage(err error) string {
	switch {
	case errors.Is(err, contacts.ErrInvalidEventDate):
		return errorInvalidEventDate
	case errors.Is(err, contacts.ErrInvalidGuestCount):
		return errorInvalidRequestBody
	default:
		return errorMissingRequiredFields
	}
}

type healthResponsePayload struct {
	Status            string               `json:"status"`
	Database          string               `json:"database,omitempty"`
	DatabaseLatencyMs *float64             `json:"databaseLatencyMs,omitempty"`
	Pool              *poolResponsePayload `json:"pool,omitempty"`
	KeepAlive         *bool                `json:"keepAlive,omitempty"`
	LastInsertAt      string               `json:"lastInsertAt,omitempty"`
	LastInsertMs      *float64             `json:"lastInsertMs,omitempty"`
}

type poolResponsePayload struct {
	Open      int   `json:"open"`
	InUse     int   `json:"inUse"`
	Idle      int   `json:"idle"`
	MaxOpen   int   `json:"maxOpen"`
	WaitCount int64 `json:"waitCount"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	response := healthResponsePayload{Status: healthStatusOK}
	status := http.StatusOK

	if h.database != nil {
		latency, err := h.database.Probe(c.Request.Context())
		h.metrics.ObserveProbe(probeKindHealth, latency, err)
		if err != nil {
			h.logger.Warn("health probe failed", zap.Error(err))
			response.Status = healthDegraded
			response.Database = "unavailable"
			status = http.StatusServiceUnavailable
		} else {
			latencyMs := milliseconds(latency)
			response.Database = healthStatusOK
			response.DatabaseLatencyMs = &latencyMs
		}
		stats := h.database.Stats()
		response.Pool = &poolResponsePayload{
			Open:      stats.OpenConnections,
			InUse:     stats.InUse,
			Idle:      stats.Idle,
			MaxOpen:   stats.MaxOpenConnections,
			WaitCount: stats.WaitCount,
		}
	}

	if h.keepAlive != nil {
		running := h.keepAlive.Running()
		response.KeepAlive = &running
	}

	if h.stats != nil {
		snapshot := h.stats.Snapshot()
		if !snapshot.LastInsertAt.IsZero() {
			insertMs := milliseconds(snapshot.LastDuration)
			response.LastInsertAt = snapshot.LastInsertAt.UTC().Format(time.RFC3339)
			response.LastInsertMs = &insertMs
		}
	}

	c.JSON(status, response)
}

func milliseconds(duration time.Duration) float64 {
	return float64(duration.Microseconds()) / 1000
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.New(cors.Config{
		AllowOrigins:  allowedOrigins,
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Content-Type", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	})
}
