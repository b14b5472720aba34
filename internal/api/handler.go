package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"course-billing/internal/auth"
	"course-billing/internal/models"
	"course-billing/internal/paystack"
	"course-billing/internal/service"
	"course-billing/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// OrderProcessor stages subscriptions and starts payment
type OrderProcessor interface {
	HandleOrder(ctx context.Context, userID int64, req *service.OrderRequest, idempotencyKey string) (*service.OrderResult, error)
}

// PaymentReconciler finalizes a payment reference
type PaymentReconciler interface {
	Reconcile(ctx context.Context, reference string) (*service.ReconcileResult, error)
}

// PurchaseQueries reads purchases and reveals gated links
type PurchaseQueries interface {
	ListPurchasedSessions(ctx context.Context, userID int64) ([]models.Purchase, error)
	GetCourseSession(ctx context.Context, caller *service.Caller, sessionID int64) (*models.CourseSession, error)
	ViewCourseSessionLink(ctx context.Context, caller *service.Caller, sessionID int64) (string, error)
	ViewCourseResourceLink(ctx context.Context, caller *service.Caller, resourceID int64) (string, error)
	ListSubscriptionsByReference(ctx context.Context, reference string) ([]models.CourseSubscription, error)
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders     OrderProcessor
	reconciler PaymentReconciler
	purchases  PurchaseQueries
	jwtSecret  string
	limiter    *RateLimiter
	checks     map[string]Pinger
	logger     *zap.Logger
}

// NewHandler creates a new HTTP handler. limiter may be nil.
func NewHandler(
	orders OrderProcessor,
	reconciler PaymentReconciler,
	purchases PurchaseQueries,
	jwtSecret string,
	limiter *RateLimiter,
	checks map[string]Pinger,
) *Handler {
	return &Handler{
		orders:     orders,
		reconciler: reconciler,
		purchases:  purchases,
		jwtSecret:  jwtSecret,
		limiter:    limiter,
		checks:     checks,
		logger:     util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	if h.limiter != nil {
		v1.Use(h.limiter.Middleware())
	}
	{
		v1.GET("/paystack/cb", h.paystackCallback)
		v1.GET("/course-sessions/:id", auth.OptionalAuth(h.jwtSecret), h.getCourseSession)
	}

	authed := v1.Group("")
	authed.Use(auth.AuthMiddleware(h.jwtSecret))
	{
		authed.POST("/orders", h.createOrder)
		authed.GET("/purchase/course", h.listPurchasedCourses)
		authed.GET("/course-sessions/:id/view", h.viewCourseSessionLink)
		authed.GET("/course-resources/:id/view", h.viewCourseResourceLink)
	}

	admin := authed.Group("/admin")
	admin.Use(auth.RequireRole(models.RoleAdmin))
	{
		admin.GET("/subscriptions", h.listSubscriptionsByReference)
		admin.POST("/reconcile/:reference", h.reconcileReference)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"details": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles checkout
func (h *Handler) createOrder(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	var req service.OrderRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.orders.HandleOrder(c.Request.Context(), userID, &req, c.GetHeader("Idempotency-Key"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	switch {
	case req.PaymentMethod == models.PaymentMethodBank && !res.Replayed:
		c.JSON(http.StatusAccepted, gin.H{
			"authorization_url":   "",
			"total_course_amount": res.TotalCourseAmount,
			"message":             service.MsgBankUnavailable,
		})
	case res.Replayed:
		c.Header("Idempotent-Replayed", "true")
		c.JSON(http.StatusOK, gin.H{"authorization_url": res.AuthorizationURL})
	case res.AuthorizationURL == "":
		c.JSON(http.StatusOK, gin.H{
			"authorization_url":   "",
			"total_course_amount": res.TotalCourseAmount,
		})
	default:
		c.JSON(http.StatusCreated, gin.H{"authorization_url": res.AuthorizationURL})
	}
}

// paystackCallback verifies and reconciles the reference the gateway sends back
func (h *Handler) paystackCallback(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required"})
		return
	}

	_, err := h.reconciler.Reconcile(c.Request.Context(), reference)
	switch {
	case errors.Is(err, service.ErrPaymentInconclusive):
		c.JSON(http.StatusAccepted, gin.H{"message": service.MsgPaymentPending})
		return
	case err != nil:
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": service.MsgPaymentSuccess})
}

// listPurchasedCourses returns the caller's purchases
func (h *Handler) listPurchasedCourses(c *gin.Context) {
	userID, _ := auth.GetUserID(c)

	purchases, err := h.purchases.ListPurchasedSessions(c.Request.Context(), userID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, purchases)
}

// getCourseSession returns one session; the link is only shown to staff
func (h *Handler) getCourseSession(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	session, err := h.purchases.GetCourseSession(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// viewCourseSessionLink reveals a purchased session's link
func (h *Handler) viewCourseSessionLink(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	link, err := h.purchases.ViewCourseSessionLink(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"link": link})
}

// viewCourseResourceLink reveals a purchased resource's URL
func (h *Handler) viewCourseResourceLink(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	url, err := h.purchases.ViewCourseResourceLink(c.Request.Context(), callerFrom(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": url})
}

// listSubscriptionsByReference lets support inspect one checkout
func (h *Handler) listSubscriptionsByReference(c *gin.Context) {
	reference := c.Query("reference")
	if reference == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "reference is required"})
		return
	}

	subs, err := h.purchases.ListSubscriptionsByReference(c.Request.Context(), reference)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, subs)
}

// reconcileReference re-runs reconciliation on demand and reports the
// resulting state, whether or not the payment succeeded
func (h *Handler) reconcileReference(c *gin.Context) {
	res, err := h.reconciler.Reconcile(c.Request.Context(), c.Param("reference"))
	if res != nil && errors.Is(err, service.ErrPaymentInconclusive) {
		c.JSON(http.StatusAccepted, res)
		return
	}
	if err != nil && (res == nil || !isPaymentOutcome(err)) {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

func isPaymentOutcome(err error) bool {
	return errors.Is(err, service.ErrAmountMismatch) || errors.Is(err, service.ErrPaymentFailed)
}

func callerFrom(c *gin.Context) *service.Caller {
	claims, ok := auth.GetClaims(c)
	if !ok {
		return nil
	}
	return &service.Caller{UserID: claims.UserID, Roles: claims.Roles}
}

func parseID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// writeError maps service and gateway errors onto HTTP responses
func (h *Handler) writeError(c *gin.Context, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Error(err))
	}
	if status == http.StatusInternalServerError {
		c.JSON(status, gin.H{"error": message})
		return
	}
	c.JSON(status, gin.H{
		"error":   message,
		"details": err.Error(),
	})
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrCourseNotFound):
		return http.StatusNotFound, service.MsgCourseNotFound
	case errors.Is(err, service.ErrSessionNotFound):
		return http.StatusNotFound, "Course Session not found"
	case errors.Is(err, service.ErrResourceNotFound):
		return http.StatusNotFound, "Course resource not found"
	case errors.Is(err, service.ErrReferenceNotFound):
		return http.StatusNotFound, "Payment reference not found"
	case errors.Is(err, service.ErrNotPurchased):
		return http.StatusNotFound, service.MsgNotPurchased
	case errors.Is(err, service.ErrAmountMismatch):
		return http.StatusBadRequest, service.MsgAmountMismatch
	case errors.Is(err, service.ErrPaymentFailed):
		return http.StatusBadRequest, service.MsgPaymentFailed
	case errors.Is(err, service.ErrInvalidPaymentMethod):
		return http.StatusBadRequest, "Invalid payment method"
	case errors.Is(err, service.ErrDuplicateSession):
		return http.StatusBadRequest, "Each course session may only be listed once"
	case errors.Is(err, service.ErrPaymentInconclusive):
		return http.StatusAccepted, service.MsgPaymentPending
	case errors.Is(err, service.ErrReconcileInProgress):
		return http.StatusConflict, "Payment is already being processed"
	case errors.Is(err, paystack.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "Payment provider unavailable, please retry"
	case errors.Is(err, paystack.ErrRequestRejected):
		return http.StatusBadGateway, "Payment provider rejected the request"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
