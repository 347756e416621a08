package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fomo-relay/agent/database"
	"fomo-relay/agent/internal/models"
	"fomo-relay/agent/internal/services"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type knownTokenRequest struct {
	Symbol          string `json:"symbol" binding:"required"`
	ContractAddress string `json:"contractAddress" binding:"required"`
	MinMarketCap    int64  `json:"minMarketCap"`
	Chain           string `json:"chain"`
}

type knownTokenResponse struct {
	ID              uint   `json:"id"`
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contractAddress"`
	MinMarketCap    int64  `json:"minMarketCap"`
	Chain           string `json:"chain"`
}

func toKnownTokenResponse(t models.KnownToken) knownTokenResponse {
	chain := models.ChainSOL
	if t.Chain != nil {
		chain = *t.Chain
	}
	return knownTokenResponse{
		ID:              t.ID,
		Symbol:          t.Symbol,
		ContractAddress: t.ContractAddress,
		MinMarketCap:    t.MinMarketCap,
		Chain:           string(chain),
	}
}

// toModel fills a KnownToken from the request; ok is false for an unknown chain.
func (r knownTokenRequest) toModel() (models.KnownToken, bool) {
	token := models.KnownToken{
		Symbol:          r.Symbol,
		ContractAddress: r.ContractAddress,
		MinMarketCap:    r.MinMarketCap,
	}
	if r.Chain != "" {
		chain, ok := models.ParseChain(r.Chain)
		if !ok {
			return token, false
		}
		token.Chain = &chain
	}
	return token, true
}

func (a *api) listKnownTokens(c *gin.Context) {
	tokens, err := a.KnownTokens.List(c.Request.Context())
	if err != nil {
		a.appLogger.Error("Failed to list known tokens", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]knownTokenResponse, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, toKnownTokenResponse(t))
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) getKnownToken(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	token, err := a.KnownTokens.Get(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, fmt.Sprintf("Known token with ID %d not found", id))
		return
	}
	if err != nil {
		a.appLogger.Error("Failed to load known token", zap.Uint("id", id), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, toKnownTokenResponse(*token))
}

func (a *api) createKnownToken(c *gin.Context) {
	var req knownTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "symbol and contractAddress are required")
		return
	}
	token, ok := req.toModel()
	if !ok {
		respondError(c, http.StatusBadRequest, "chain must be SOL, BNB or BASE")
		return
	}

	err := a.KnownTokens.Create(c.Request.Context(), &token)
	switch {
	case errors.Is(err, services.ErrInvalidKnownToken):
		respondError(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, database.ErrDuplicateKey):
		respondError(c, http.StatusConflict, fmt.Sprintf("Token with symbol %s already exists", token.Symbol))
		return
	case err != nil:
		a.appLogger.Error("Failed to create known token", zap.String("symbol", token.Symbol), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusCreated, toKnownTokenResponse(token))
}

func (a *api) updateKnownToken(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req knownTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "symbol and contractAddress are required")
		return
	}
	update, ok := req.toModel()
	if !ok {
		respondError(c, http.StatusBadRequest, "chain must be SOL, BNB or BASE")
		return
	}

	token, err := a.KnownTokens.Update(c.Request.Context(), id, update)
	switch {
	case errors.Is(err, services.ErrInvalidKnownToken):
		respondError(c, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, database.ErrNotFound):
		respondError(c, http.StatusNotFound, fmt.Sprintf("Known token with ID %d not found", id))
		return
	case errors.Is(err, database.ErrDuplicateKey):
		respondError(c, http.StatusConflict, fmt.Sprintf("Token with symbol %s already exists", update.Symbol))
		return
	case err != nil:
		a.appLogger.Error("Failed to update known token", zap.Uint("id", id), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, toKnownTokenResponse(*token))
}

func (a *api) deleteKnownToken(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	err := a.KnownTokens.Delete(c.Request.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, fmt.Sprintf("Known token with ID %d not found", id))
		return
	}
	if err != nil {
		a.appLogger.Error("Failed to delete known token", zap.Uint("id", id), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": fmt.Sprintf("Deleted known token %d", id)})
}

func (a *api) refreshKnownTokens(c *gin.Context) {
	a.KnownTokens.RefreshCache()
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": "Cache refreshed successfully"})
}

type tokenCacheRequest struct {
	Ticker          string `json:"ticker" binding:"required"`
	ContractAddress string `json:"contractAddress" binding:"required"`
	Chain           string `json:"chain"`
}

type tokenCacheResponse struct {
	Ticker          string    `json:"ticker"`
	ContractAddress string    `json:"contractAddress"`
	Chain           *string   `json:"chain"`
	LastAccessed    time.Time `json:"lastAccessed"`
	ExpiresAt       time.Time `json:"expiresAt"`
}

func (a *api) listTokenCache(c *gin.Context) {
	rows, err := a.TokenCache.List(c.Request.Context())
	if err != nil {
		a.appLogger.Error("Failed to list token cache", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]tokenCacheResponse, 0, len(rows))
	for _, r := range rows {
		resp := tokenCacheResponse{
			Ticker:          r.Ticker,
			ContractAddress: r.ContractAddress,
			LastAccessed:    r.LastAccessed,
			ExpiresAt:       r.ExpiresAt,
		}
		if r.Chain != nil {
			chain := string(*r.Chain)
			resp.Chain = &chain
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) putTokenCache(c *gin.Context) {
	var req tokenCacheRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "ticker and contractAddress are required")
		return
	}
	var chain *models.Chain
	if req.Chain != "" {
		parsed, ok := models.ParseChain(req.Chain)
		if !ok {
			respondError(c, http.StatusBadRequest, "chain must be SOL, BNB or BASE")
			return
		}
		chain = &parsed
	}
	ticker := strings.TrimSpace(req.Ticker)
	if err := a.TokenCache.Put(c.Request.Context(), ticker, strings.TrimSpace(req.ContractAddress), chain); err != nil {
		a.appLogger.Error("Failed to seed token cache", zap.String("ticker", ticker), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "ticker": ticker})
}

func (a *api) deleteTokenCache(c *gin.Context) {
	ticker := c.Param("ticker")
	err := a.TokenCache.Remove(c.Request.Context(), ticker)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, fmt.Sprintf("No cached address for %s", ticker))
		return
	}
	if err != nil {
		a.appLogger.Error("Failed to remove cached token", zap.String("ticker", ticker), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "message": fmt.Sprintf("Removed %s from cache", ticker)})
}

type userResponse struct {
	ID         uint      `json:"id"`
	ChatID     int64     `json:"chatId"`
	Username   *string   `json:"username"`
	FirstName  *string   `json:"firstName"`
	JoinedAt   time.Time `json:"joinedAt"`
	IsActive   bool      `json:"isActive"`
	AutoFollow bool      `json:"autoFollowNewTraders"`
}

func toUserResponse(u models.User) userResponse {
	return userResponse{
		ID:         u.ID,
		ChatID:     u.ChatID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		JoinedAt:   u.JoinedAt,
		IsActive:   u.IsActive,
		AutoFollow: u.AutoFollowNewTraders,
	}
}

func (a *api) listUsers(c *gin.Context) {
	users, err := a.Subscriptions.Users(c.Request.Context())
	if err != nil {
		a.appLogger.Error("Failed to list users", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]userResponse, 0, len(users))
	active := 0
	for _, u := range users {
		if u.IsActive {
			active++
		}
		out = append(out, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "totalUsers": len(users), "activeUsers": active, "users": out})
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func parseChatID(c *gin.Context) (int64, bool) {
	chatID, err := strconv.ParseInt(c.Param("chatId"), 10, 64)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid chatId")
		return 0, false
	}
	return chatID, true
}

func (a *api) setUserActive(c *gin.Context) {
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "enabled is required")
		return
	}
	err := a.Subscriptions.SetUserActive(c.Request.Context(), chatID, *req.Enabled)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		a.appLogger.Error("Failed to update user", zap.Int64("chatID", chatID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "chatId": chatID, "isActive": *req.Enabled})
}

func (a *api) setAutoFollow(c *gin.Context) {
	chatID, ok := parseChatID(c)
	if !ok {
		return
	}
	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "enabled is required")
		return
	}
	ctx := c.Request.Context()
	user, err := a.Subscriptions.User(ctx, chatID)
	if errors.Is(err, database.ErrNotFound) {
		respondError(c, http.StatusNotFound, "User not found")
		return
	}
	if err == nil {
		err = a.Subscriptions.SetAutoFollow(ctx, user.ID, *req.Enabled)
	}
	if err != nil {
		a.appLogger.Error("Failed to update auto-follow", zap.Int64("chatID", chatID), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success", "chatId": chatID, "autoFollowNewTraders": *req.Enabled})
}

type traderResponse struct {
	ID          uint      `json:"id"`
	Handle      string    `json:"handle"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	Followers   int       `json:"followers"`
}

func (a *api) listTraders(c *gin.Context) {
	ctx := c.Request.Context()
	traders, err := a.Subscriptions.Traders(ctx)
	if err != nil {
		a.appLogger.Error("Failed to list traders", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	counts, err := a.Subscriptions.FollowerCounts(ctx)
	if err != nil {
		a.appLogger.Error("Failed to count followers", zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}

	out := make([]traderResponse, 0, len(traders))
	for _, t := range traders {
		out = append(out, traderResponse{
			ID:          t.ID,
			Handle:      t.Handle,
			FirstSeenAt: t.FirstSeenAt,
			LastSeenAt:  t.LastSeenAt,
			Followers:   counts[t.ID],
		})
	}
	c.JSON(http.StatusOK, out)
}

func (a *api) traderFollowers(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	users, err := a.Subscriptions.Followers(c.Request.Context(), id)
	if err != nil {
		a.appLogger.Error("Failed to list followers", zap.Uint("traderID", id), zap.Error(err))
		respondError(c, http.StatusInternalServerError, "Internal server error")
		return
	}
	out := make([]userResponse, 0, len(users))
	for _, u := range users {
		out = append(out, toUserResponse(u))
	}
	c.JSON(http.StatusOK, gin.H{"traderId": id, "followers": out})
}

func (a *api) retryQueue(c *gin.Context) {
	entries := a.RetryQueue.Snapshot()
	if entries == nil {
		entries = []services.RetryEntry{}
	}
	c.JSON(http.StatusOK, gin.H{"pending": len(entries), "entries": entries})
}
