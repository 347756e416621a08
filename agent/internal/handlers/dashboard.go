package handlers

import (
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"fomo-relay/agent/internal/models"
	"fomo-relay/agent/internal/services"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxRecentLimit = 500

type notificationResponse struct {
	ID               uint       `json:"id"`
	Message          string     `json:"message"`
	Ticker           *string    `json:"ticker"`
	Trader           *string    `json:"trader"`
	HasCA            bool       `json:"hasCA"`
	ContractAddress  *string    `json:"contractAddress"`
	Chain            *string    `json:"chain"`
	Source           string     `json:"source,omitempty"`
	SentAt           time.Time  `json:"sentAt"`
	MarketCap        *int64     `json:"marketCap"`
	LookupDurationMs *int64     `json:"lookupDurationMs"`
	WasRetried       bool       `json:"wasRetried"`
	RecipientCount   int        `json:"recipientCount"`
	IsManuallyEdited bool       `json:"isManuallyEdited"`
	IsSystemEdited   bool       `json:"isSystemEdited"`
	EditedAt         *time.Time `json:"editedAt"`
}

func toNotificationResponse(v models.NotificationView) notificationResponse {
	resp := notificationResponse{
		ID:               v.ID,
		Message:          v.Message,
		Ticker:           v.Ticker,
		Trader:           v.Trader,
		HasCA:            v.HasCA,
		ContractAddress:  v.ContractAddress,
		SentAt:           v.SentAt,
		MarketCap:        v.MarketCapAtNotification,
		LookupDurationMs: v.LookupDurationMs,
		WasRetried:       v.WasRetried,
		RecipientCount:   v.RecipientCount,
		IsManuallyEdited: v.IsManuallyEdited,
		IsSystemEdited:   v.IsSystemEdited,
		EditedAt:         v.EditedAt,
	}
	if v.Chain != nil {
		chain := string(*v.Chain)
		resp.Chain = &chain
	}
	if v.ContractAddressSource != nil {
		resp.Source = v.ContractAddressSource.String()
	}
	return resp
}

// recentNotifications returns the newest notifications in chronological order.
func (a *api) recentNotifications(c *gin.Context) {
	limit := a.RecentLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if limit > maxRecentLimit {
		limit = maxRecentLimit
	}

	views, err := a.Notifications.RecentNotifications(c.Request.Context(), limit)
	if err != nil {
		a.appLogger.Error("Error fetching dashboard notifications", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to fetch notifications")
		return
	}

	out := make([]notificationResponse, 0, len(views))
	for _, v := range views {
		out = append(out, toNotificationResponse(v))
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].SentAt.Before(out[j].SentAt) })
	c.JSON(http.StatusOK, gin.H{"status": "success", "notifications": out})
}

type contractRequest struct {
	ContractAddress string `json:"contractAddress" binding:"required"`
	Chain           string `json:"chain"`
}

// applyContract is the operator's manual contract address edit.
func (a *api) applyContract(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req contractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "contractAddress is required")
		return
	}
	ca := strings.TrimSpace(req.ContractAddress)
	chain := models.ChainSOL
	if req.Chain != "" {
		parsed, ok := models.ParseChain(req.Chain)
		if !ok {
			respondError(c, http.StatusBadRequest, "chain must be SOL, BNB or BASE")
			return
		}
		chain = parsed
	}
	if chain == models.ChainSOL {
		if _, err := solana.PublicKeyFromBase58(ca); err != nil {
			respondError(c, http.StatusBadRequest, "contractAddress is not a valid Solana mint")
			return
		}
	}

	result, err := a.Dispatcher.ApplyContractAddress(c.Request.Context(), id, services.ContractUpdate{
		ContractAddress: ca,
		Chain:           chain,
		Kind:            services.EditManual,
	})
	switch {
	case errors.Is(err, services.ErrNotificationNotFound):
		respondError(c, http.StatusNotFound, "Notification not found")
		return
	case errors.Is(err, services.ErrTransportUnavailable):
		respondError(c, http.StatusServiceUnavailable, "Contract address stored but messaging transport is not configured")
		return
	case err != nil:
		a.appLogger.Error("Failed to apply contract address", zap.Uint("notificationID", id), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to apply contract address")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":         "success",
		"notificationId": result.NotificationID,
		"edited":         result.Edited,
		"failed":         result.Failed,
	})
}

// stats summarizes the last 24 hours plus live queue sizes.
func (a *api) stats(c *gin.Context) {
	ctx := c.Request.Context()
	since := time.Now().Add(-24 * time.Hour)

	total, withCA, err := a.Notifications.CountNotifications(ctx, since)
	if err != nil {
		a.appLogger.Error("Failed to count notifications", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	active, err := a.Subscriptions.ActiveUsers(ctx)
	if err != nil {
		a.appLogger.Error("Failed to list active users", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to load stats")
		return
	}
	traders, err := a.Subscriptions.Traders(ctx)
	if err != nil {
		a.appLogger.Error("Failed to list traders", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Failed to load stats")
		return
	}

	var resolvedPct float64
	if total > 0 {
		resolvedPct = float64(withCA) / float64(total) * 100
	}
	resp := gin.H{
		"status":             "success",
		"notifications24h":   total,
		"resolved24h":        withCA,
		"resolvedPercent24h": resolvedPct,
		"activeUsers":        len(active),
		"traders":            len(traders),
		"retryQueue":         len(a.RetryQueue.Snapshot()),
	}

	if a.Stats != nil {
		stages, err := a.Stats.StageStats(ctx, since)
		if err != nil {
			a.appLogger.Warn("Failed to load lookup stage stats", zap.Error(err))
		} else {
			resp["stages"] = stages
		}
	}
	c.JSON(http.StatusOK, resp)
}
