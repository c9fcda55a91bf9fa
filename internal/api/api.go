// Package api exposes shift closures over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"fuel-shift-reconciliation/internal/models"
	"fuel-shift-reconciliation/pkg/errors"
	"fuel-shift-reconciliation/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const correlationHeader = "X-Correlation-Id"

// Closer runs a shift closure. *reconciler.Engine implements it.
type Closer interface {
	Close(ctx context.Context, req *models.ShiftClosureRequest) (*models.ClosureResult, error)
}

// ErrorBody describes why a closure failed as a whole.
type ErrorBody struct {
	Code       errors.ErrorCode `json:"code"`
	Message    string           `json:"message"`
	Suggestion string           `json:"suggestion,omitempty"`
}

// ClosureResponse is the body of POST /v1/shift-closures.
type ClosureResponse struct {
	Result *models.ClosureResult `json:"result,omitempty"`
	Error  *ErrorBody            `json:"error,omitempty"`
}

// RouterOption customizes the router.
type RouterOption func(*routerOptions)

type routerOptions struct {
	allowedOrigins []string
}

// WithAllowedOrigins enables CORS for the given origins. "*" allows any origin.
func WithAllowedOrigins(origins ...string) RouterOption {
	return func(o *routerOptions) {
		o.allowedOrigins = append(o.allowedOrigins, origins...)
	}
}

// NewRouter wires the closure endpoint, health check and metrics. A nil
// gatherer serves the default Prometheus registry.
func NewRouter(closer Closer, log logger.Logger, gatherer prometheus.Gatherer, opts ...RouterOption) *gin.Engine {
	var options routerOptions
	for _, opt := range opts {
		opt(&options)
	}
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	log = log.WithComponent("http")

	r := gin.New()
	if len(options.allowedOrigins) > 0 {
		r.Use(corsMiddleware(options.allowedOrigins))
	}
	r.Use(correlationID())
	r.Use(requestLogger(log))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	r.POST("/v1/shift-closures", CloseShiftHandler(closer))

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	for _, origin := range origins {
		if origin == "*" {
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowOrigins = nil
			break
		}
		corsConfig.AllowOrigins = append(corsConfig.AllowOrigins, origin)
	}
	corsConfig.AddAllowHeaders(correlationHeader)
	corsConfig.AddExposeHeaders(correlationHeader)
	return cors.New(corsConfig)
}

func correlationID() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(correlationHeader)
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Set("correlation_id", cid)
		c.Header(correlationHeader, cid)
		c.Next()
	}
}

func requestLogger(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logger.Fields{
			"method":         c.Request.Method,
			"path":           c.FullPath(),
			"status":         c.Writer.Status(),
			"elapsed":        time.Since(start),
			"correlation_id": c.GetString("correlation_id"),
		})
		if len(c.Errors) > 0 {
			entry.WithError(c.Errors.Last()).Warn("Request failed")
			return
		}
		entry.Debug("Request handled")
	}
}

// CloseShiftHandler decodes a closure request and runs it. A closure that
// went through, even with line errors, answers 201.
func CloseShiftHandler(closer Closer) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ShiftClosureRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			_ = c.Error(err)
			c.JSON(http.StatusBadRequest, ClosureResponse{Error: &ErrorBody{
				Code:    errors.CodeInvalidFormat,
				Message: err.Error(),
			}})
			return
		}

		result, err := closer.Close(c.Request.Context(), &req)
		if err != nil {
			_ = c.Error(err)
			body := &ErrorBody{Code: errors.CodeUnexpectedError, Message: err.Error()}
			if rerr, ok := errors.AsReconcilerError(err); ok {
				body = &ErrorBody{Code: rerr.Code, Message: rerr.Message, Suggestion: rerr.Suggestion}
			}
			c.JSON(StatusFor(err), ClosureResponse{Result: result, Error: body})
			return
		}
		c.JSON(http.StatusCreated, ClosureResponse{Result: result})
	}
}

// StatusFor maps a closure error to an HTTP status.
func StatusFor(err error) int {
	rerr, ok := errors.AsReconcilerError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch rerr.Category {
	case errors.CategoryValidation, errors.CategoryParse:
		return http.StatusUnprocessableEntity
	case errors.CategoryNotFound:
		return http.StatusNotFound
	case errors.CategoryConflict, errors.CategoryInventory:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
