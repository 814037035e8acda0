package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"futures-alert-bot/internal/models"
	"futures-alert-bot/internal/store"
	"futures-alert-bot/internal/trader"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// webhookHandler ingests one alert. Soft rejections (max trades, duplicate
// symbol, existing position) are 200 responses with success=false; only
// malformed payloads and internal failures are HTTP errors.
func (s *Server) webhookHandler(c *gin.Context) {
	var alert trader.AlertPayload
	if err := c.ShouldBindJSON(&alert); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid alert payload"})
		return
	}

	result := s.engine.SubmitAlert(alert)
	if result.Accepted {
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": false, "message": result.Reason})
}

// credentialRequest mirrors the dashboard's credential form fields.
type credentialRequest struct {
	ID        uint    `json:"id"`
	ApiKey    string  `json:"apiKey"`
	ApiSecret string  `json:"apiSecret"`
	Balance   float64 `json:"balance"`
	Leverage  int     `json:"leverage"`
}

func (s *Server) saveCredentialHandler(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential payload"})
		return
	}

	id, err := s.store.SaveCredential(&models.Credential{
		ApiKey:      req.ApiKey,
		ApiSecret:   req.ApiSecret,
		TradeAmount: req.Balance,
		Leverage:    req.Leverage,
	})
	if err != nil {
		s.logger.Error("Error saving credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error saving credentials"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "id": id})
}

func (s *Server) listCredentialsHandler(c *gin.Context) {
	creds, err := s.store.GetCredentials()
	if err != nil {
		s.logger.Error("Error retrieving credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error retrieving credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": creds})
}

func (s *Server) updateCredentialHandler(c *gin.Context) {
	var req credentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid credential payload"})
		return
	}

	// The id may arrive as a query parameter or in the payload.
	if idParam := c.Query("id"); idParam != "" {
		id, err := strconv.ParseUint(idParam, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "credential id must be a number"})
			return
		}
		req.ID = uint(id)
	}
	if req.ID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential id is required"})
		return
	}

	cred := models.Credential{
		ApiKey:      req.ApiKey,
		ApiSecret:   req.ApiSecret,
		TradeAmount: req.Balance,
		Leverage:    req.Leverage,
	}
	cred.ID = req.ID
	if err := s.store.UpdateCredential(&cred); err != nil {
		s.logger.Error("Error updating credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error updating credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) deleteCredentialHandler(c *gin.Context) {
	idParam := c.Query("id")
	if idParam == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential id is required"})
		return
	}
	id, err := strconv.ParseUint(idParam, 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credential id must be a number"})
		return
	}

	if err := s.store.DeleteCredential(uint(id)); err != nil {
		s.logger.Error("Error deleting credentials", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error deleting credentials"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (s *Server) getMaxTradesHandler(c *gin.Context) {
	maxTrades, err := s.store.GetCounter(store.CounterMaxTrades)
	if err != nil {
		s.logger.Error("Error retrieving max trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error retrieving max trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "maxTrades": maxTrades})
}

func (s *Server) setMaxTradesHandler(c *gin.Context) {
	var req struct {
		MaxTrades *int64 `json:"maxTrades"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MaxTrades == nil || *req.MaxTrades < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "maxTrades must be a non-negative number"})
		return
	}

	if err := s.store.SetCounter(store.CounterMaxTrades, *req.MaxTrades); err != nil {
		s.logger.Error("Error setting max trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error setting max trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "maxTrades": *req.MaxTrades})
}

func (s *Server) getCurrentTradesHandler(c *gin.Context) {
	currentTrades, err := s.store.GetCounter(store.CounterCurrentTrades)
	if err != nil {
		s.logger.Error("Error retrieving current trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error retrieving current trades"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "currentTrades": currentTrades})
}

// setCurrentTradesHandler is the administrative override for the open-trade
// counter, used to correct drift after partial failures.
func (s *Server) setCurrentTradesHandler(c *gin.Context) {
	var req struct {
		CurrentTrades *int64 `json:"currentTrades"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.CurrentTrades == nil || *req.CurrentTrades < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "currentTrades must be a non-negative number"})
		return
	}

	if err := s.store.SetCounter(store.CounterCurrentTrades, *req.CurrentTrades); err != nil {
		s.logger.Error("Error setting current trades", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error setting current trades"})
		return
	}
	s.hub.NotifyCurrentTrades(*req.CurrentTrades)
	c.JSON(http.StatusOK, gin.H{"success": true, "currentTrades": *req.CurrentTrades})
}

func (s *Server) getTestModeHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "testMode": s.engine.TestMode()})
}

func (s *Server) setTestModeHandler(c *gin.Context) {
	var req struct {
		TestMode *bool `json:"testMode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.TestMode == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "testMode must be a boolean (true or false)"})
		return
	}

	s.engine.SetTestMode(*req.TestMode)
	c.JSON(http.StatusOK, gin.H{"success": true, "testMode": *req.TestMode})
}

func (s *Server) statusHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "connected": s.stream.Connected()})
}

// connectHandler re-reads the active credential and (re)starts the
// user-data stream, for use after credentials change.
func (s *Server) connectHandler(c *gin.Context) {
	cred, err := s.store.ActiveCredential()
	if err != nil {
		s.logger.Error("Error reading credentials for stream connect", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to read credentials"})
		return
	}
	if cred == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "no credentials available"})
		return
	}

	s.gateway.SetCredentials(cred.ApiKey, cred.ApiSecret)
	if err := s.stream.Start(s.rootCtx); err != nil {
		s.logger.Error("Failed to start user data stream", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "failed to initialize stream"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "stream connected successfully"})
}

func (s *Server) balanceHandler(c *gin.Context) {
	if !s.gateway.HasCredentials() {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": "gateway is not initialized"})
		return
	}

	balances, err := s.gateway.GetBalance()
	if err != nil {
		s.logger.Error("Error fetching balance", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error fetching balance"})
		return
	}

	for _, b := range balances {
		if b.Asset == "USDT" {
			c.JSON(http.StatusOK, gin.H{"success": true, "balance": b})
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "USDT balance not found"})
}

// allTradesHandler returns ledger rows for the last 1, 7 or 30 days.
func (s *Server) allTradesHandler(c *gin.Context) {
	days := 1
	if daysParam := c.Query("days"); daysParam != "" {
		parsed, err := strconv.Atoi(daysParam)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid 'days' parameter. Use 1, 7, or 30."})
			return
		}
		days = parsed
	}
	if days != 1 && days != 7 && days != 30 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "Invalid 'days' parameter. Use 1, 7, or 30."})
		return
	}

	endTime := time.Now().UnixMilli()
	startTime := endTime - int64(days)*24*time.Hour.Milliseconds()

	trades, err := s.store.QueryTrades(startTime, endTime)
	if err != nil {
		s.logger.Error("Error fetching trades from database", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error fetching trade history"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "trades": trades})
}

// sseTradesHandler is the observer subscription boundary. Each connected
// client gets counter updates and newly closed trades until it disconnects.
func (s *Server) sseTradesHandler(c *gin.Context) {
	id, ch := s.hub.Subscribe()
	defer s.hub.Unsubscribe(id)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Flush()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case payload, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "data: %s\n\n", payload)
			c.Writer.Flush()
		}
	}
}
