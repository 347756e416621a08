package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fomo-relay/agent/internal/analytics"
	"fomo-relay/agent/internal/models"
	"fomo-relay/agent/internal/services"
	"fomo-relay/shared/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Dispatcher is the ingestion and edit side of the alert pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, text string) (services.DispatchResult, error)
	ApplyContractAddress(ctx context.Context, notificationID uint, update services.ContractUpdate) (services.EditResult, error)
}

type NotificationReader interface {
	RecentNotifications(ctx context.Context, limit int) ([]models.NotificationView, error)
	CountNotifications(ctx context.Context, since time.Time) (total, withCA int64, err error)
}

type KnownTokenManager interface {
	List(ctx context.Context) ([]models.KnownToken, error)
	Get(ctx context.Context, id uint) (*models.KnownToken, error)
	Create(ctx context.Context, token *models.KnownToken) error
	Update(ctx context.Context, id uint, update models.KnownToken) (*models.KnownToken, error)
	Delete(ctx context.Context, id uint) error
	RefreshCache()
}

type TokenCacheManager interface {
	List(ctx context.Context) ([]models.CachedTokenAddress, error)
	Put(ctx context.Context, ticker, contractAddress string, chain *models.Chain) error
	Remove(ctx context.Context, ticker string) error
}

type SubscriptionManager interface {
	Users(ctx context.Context) ([]models.User, error)
	ActiveUsers(ctx context.Context) ([]models.User, error)
	User(ctx context.Context, chatID int64) (*models.User, error)
	SetUserActive(ctx context.Context, chatID int64, active bool) error
	SetAutoFollow(ctx context.Context, userID uint, enabled bool) error
	Traders(ctx context.Context) ([]models.Trader, error)
	FollowerCounts(ctx context.Context) (map[uint]int, error)
	Followers(ctx context.Context, traderID uint) ([]models.User, error)
}

type RetrySnapshotter interface {
	Snapshot() []services.RetryEntry
}

type HealthChecker interface {
	Enabled() bool
	Health(ctx context.Context) error
}

type StageStatsReader interface {
	StageStats(ctx context.Context, since time.Time) ([]analytics.StageStats, error)
}

type WebSocketServer interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
}

// Deps collects what the HTTP surface needs. Stats and Hub are optional.
type Deps struct {
	Dispatcher    Dispatcher
	Notifications NotificationReader
	KnownTokens   KnownTokenManager
	TokenCache    TokenCacheManager
	Subscriptions SubscriptionManager
	RetryQueue    RetrySnapshotter
	Scanner       HealthChecker
	Stats         StageStatsReader
	Hub           WebSocketServer
	RecentLimit   int
}

type api struct {
	Deps
	appLogger *logger.Logger
}

// IngestRequest is what the phone-side listener posts. Older listeners send
// the alert body as message instead of text.
type IngestRequest struct {
	App             string `json:"app"`
	Title           string `json:"title"`
	Text            string `json:"text"`
	Message         string `json:"message"`
	ContractAddress string `json:"contractAddress"`
	Timestamp       int64  `json:"timestamp"`
}

func (r IngestRequest) body() string {
	if strings.TrimSpace(r.Text) != "" {
		return r.Text
	}
	return r.Message
}

func RegisterRoutes(router *gin.Engine, deps Deps, appLogger *logger.Logger) {
	if appLogger == nil {
		appLogger = logger.NewNop()
	}
	if deps.RecentLimit <= 0 {
		deps.RecentLimit = 100
	}
	a := &api{Deps: deps, appLogger: appLogger}

	router.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "FOMO relay is running"})
	})
	router.GET("/health", a.health)
	if deps.Hub != nil {
		router.GET("/hubs/dashboard", gin.WrapF(deps.Hub.ServeWS))
	}

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/notifications", a.receiveNotification)

		dashboard := apiGroup.Group("/dashboard")
		dashboard.GET("/notifications", a.recentNotifications)
		dashboard.POST("/notifications/:id/contract", a.applyContract)
		dashboard.GET("/stats", a.stats)

		known := apiGroup.Group("/known-tokens")
		known.GET("", a.listKnownTokens)
		known.GET("/:id", a.getKnownToken)
		known.POST("", a.createKnownToken)
		known.PUT("/:id", a.updateKnownToken)
		known.DELETE("/:id", a.deleteKnownToken)
		known.POST("/refresh-cache", a.refreshKnownTokens)

		cache := apiGroup.Group("/token-cache")
		cache.GET("", a.listTokenCache)
		cache.POST("", a.putTokenCache)
		cache.DELETE("/:ticker", a.deleteTokenCache)

		users := apiGroup.Group("/users")
		users.GET("", a.listUsers)
		users.PUT("/:chatId/active", a.setUserActive)
		users.PUT("/:chatId/auto-follow", a.setAutoFollow)

		traders := apiGroup.Group("/traders")
		traders.GET("", a.listTraders)
		traders.GET("/:id/followers", a.traderFollowers)

		apiGroup.GET("/retry-queue", a.retryQueue)
	}
	appLogger.Info("API routes registered under /api")
}

func (a *api) health(c *gin.Context) {
	resp := gin.H{"status": "ok", "scanner": "disabled"}
	if a.Scanner != nil && a.Scanner.Enabled() {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := a.Scanner.Health(ctx); err != nil {
			a.appLogger.Warn("Scanner health check failed", zap.Error(err))
			resp["status"] = "degraded"
			resp["scanner"] = "unreachable"
		} else {
			resp["scanner"] = "ok"
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (a *api) receiveNotification(c *gin.Context) {
	var req IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body")
		return
	}
	a.appLogger.Info("📱 FOMO notification received", zap.String("app", req.App), zap.Int("length", len(req.body())))

	result, err := a.Dispatcher.Dispatch(c.Request.Context(), req.body())
	switch {
	case errors.Is(err, services.ErrEmptyMessage):
		respondError(c, http.StatusBadRequest, "Message is empty")
		return
	case errors.Is(err, services.ErrTransportUnavailable):
		// Stored but not delivered.
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":         "error",
			"message":        "Messaging transport is not configured",
			"notificationId": result.NotificationID,
		})
		return
	case err != nil:
		a.appLogger.Error("Error processing notification", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"message":         "Notification processed",
		"result":          result.Status,
		"notificationId":  result.NotificationID,
		"ticker":          result.Ticker,
		"trader":          result.Trader,
		"contractAddress": result.ContractAddress,
		"chain":           result.Chain,
		"source":          sourceName(result.Source),
		"recipients":      result.Recipients,
		"sent":            result.Sent,
		"failed":          result.Failed,
		"retryQueued":     result.RetryQueued,
	})
}

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"status": "error", "message": message})
}

func sourceName(s models.ContractAddressSource) string {
	if s == 0 {
		return ""
	}
	return s.String()
}

func parseID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		respondError(c, http.StatusBadRequest, fmt.Sprintf("Invalid %s", name))
		return 0, false
	}
	return uint(id), true
}
