package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/aman-churiwal/admission-gateway/internal/circuitbreaker"
	"github.com/aman-churiwal/admission-gateway/internal/counter"
	"github.com/aman-churiwal/admission-gateway/internal/models"
	"github.com/aman-churiwal/admission-gateway/internal/quota"
	"github.com/aman-churiwal/admission-gateway/internal/tier"
	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
)

// Reads per-day usage of an account between two YYYY-MM-DD dates, inclusive
type UsageHistory interface {
	History(ctx context.Context, userID, from, to string) ([]models.DailyUsage, error)
}

// Changes an account's plan
type PlanChanger interface {
	ChangePlan(ctx context.Context, userID string, plan tier.Plan) (bool, error)
}

// Handles admission administration endpoints
type AdminHandler struct {
	registry *tier.Registry
	counters counter.Store
	enforcer *quota.Enforcer
	history  UsageHistory // Optional
	plans    PlanChanger  // Optional
	breakers map[string]*circuitbreaker.CircuitBreaker
	logger   hclog.Logger
	now      func() time.Time
}

type AdminConfig struct {
	Registry *tier.Registry
	Counters counter.Store
	Enforcer *quota.Enforcer
	History  UsageHistory
	Plans    PlanChanger
	Breakers []*circuitbreaker.CircuitBreaker
	Logger   hclog.Logger
	Now      func() time.Time
}

func NewAdminHandler(cfg AdminConfig) *AdminHandler {
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Breakers))
	for _, cb := range cfg.Breakers {
		breakers[cb.Name()] = cb
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &AdminHandler{
		registry: cfg.Registry,
		counters: cfg.Counters,
		enforcer: cfg.Enforcer,
		history:  cfg.History,
		plans:    cfg.Plans,
		breakers: breakers,
		logger:   cfg.Logger.Named("admin"),
		now:      cfg.Now,
	}
}

type policyView struct {
	Tier          string `json:"tier"`
	MaxRequests   int    `json:"max_requests"`
	WindowSeconds int    `json:"window_seconds"`
	ErrorMessage  string `json:"error_message,omitempty"`
	Valid         bool   `json:"valid"`
}

// Handles GET /admin/tiers
func (h *AdminHandler) Tiers(c *gin.Context) {
	policies := h.registry.Policies()
	views := make([]policyView, 0, len(policies))
	for _, p := range policies {
		views = append(views, policyView{
			Tier:          p.Name(),
			MaxRequests:   p.MaxRequests(),
			WindowSeconds: p.WindowSeconds(),
			ErrorMessage:  p.ErrorMessage(),
			Valid:         p.Valid(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"tiers": views,
		"plans": h.registry.Plans(),
	})
}

const historyWindow = 30 * 24 * time.Hour

// Handles GET /admin/usage/:userID. History defaults to the last 30 days and
// takes the same from/to parameters as the analytics endpoints.
func (h *AdminHandler) Usage(c *gin.Context) {
	userID := c.Param("userID")
	ctx := c.Request.Context()

	from, to, err := parseTimeRange(c, h.now(), historyWindow)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	status, err := h.enforcer.Status(ctx, userID)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	body := gin.H{"user_id": userID, "today": status}
	if h.history != nil {
		days, err := h.history.History(ctx, userID, quota.DateKey(from), quota.DateKey(to))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		body["history"] = days
	}

	c.JSON(http.StatusOK, body)
}

// Handles PUT /admin/users/:id/plan
func (h *AdminHandler) ChangePlan(c *gin.Context) {
	if h.plans == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "Accounts are not enabled"})
		return
	}

	var req struct {
		Plan string `json:"plan" binding:"required,oneof=free premium pro"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	found, err := h.plans.ChangePlan(c.Request.Context(), c.Param("id"), tier.Plan(req.Plan))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		return
	}

	h.logger.Info("plan changed", "user_id", c.Param("id"), "plan", req.Plan)
	c.JSON(http.StatusOK, gin.H{"user_id": c.Param("id"), "plan": req.Plan})
}

// Handles GET /admin/breakers
func (h *AdminHandler) CircuitBreakerStatus(c *gin.Context) {
	names := make([]string, 0, len(h.breakers))
	for name := range h.breakers {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]circuitbreaker.Metrics, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, h.breakers[name].Metrics())
	}

	c.JSON(http.StatusOK, statuses)
}

// Handles POST /admin/breakers/:name/reset
func (h *AdminHandler) ResetCircuitBreaker(c *gin.Context) {
	name := c.Param("name")

	cb, exists := h.breakers[name]
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Circuit breaker not found"})
		return
	}

	cb.Reset()
	h.logger.Info("circuit breaker reset", "name", name)

	c.JSON(http.StatusOK, gin.H{
		"message": "Circuit breaker reset successfully",
		"name":    name,
	})
}

// Handles DELETE /admin/counters
func (h *AdminHandler) ClearCounters(c *gin.Context) {
	if err := h.counters.ClearAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	h.logger.Warn("all rate limit counters cleared")
	c.JSON(http.StatusOK, gin.H{"message": "Rate limit counters cleared"})
}
