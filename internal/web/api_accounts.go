package web

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/sundial-cal/sundial/internal/caldav"
	"github.com/sundial-cal/sundial/internal/store"
)

// APIAccount represents an account in JSON format for the API. Credentials
// never appear here.
type APIAccount struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	ServerURL    string `json:"server_url"`
	Username     string `json:"username"`
	PrincipalURL string `json:"principal_url,omitempty"`
	HomeSetURL   string `json:"home_set_url,omitempty"`
	IsDefault    bool   `json:"is_default"`
	IsLocal      bool   `json:"is_local"`
	Calendars    int    `json:"calendars"`
}

type createAccountRequest struct {
	Name      string `json:"name" binding:"required"`
	ServerURL string `json:"server_url" binding:"required"`
	Username  string `json:"username" binding:"required"`
	Password  string `json:"password" binding:"required"`
	IsDefault bool   `json:"is_default"`
}

func (h *Handlers) toAPIAccount(account *store.Account) APIAccount {
	api := APIAccount{
		ID:           account.ID,
		Name:         account.Name,
		ServerURL:    account.ServerURL,
		Username:     account.Username,
		PrincipalURL: account.PrincipalURL,
		HomeSetURL:   account.HomeSetURL,
		IsDefault:    account.IsDefault,
		IsLocal:      account.IsLocal(),
	}
	if cals, err := h.store.ListCalendarsByAccount(account.ID); err == nil {
		api.Calendars = len(cals)
	}
	return api
}

// APIListAccounts returns all accounts.
func (h *Handlers) APIListAccounts(c *gin.Context) {
	accounts, err := h.store.ListAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to list accounts")})
		return
	}

	out := make([]APIAccount, 0, len(accounts))
	for _, account := range accounts {
		out = append(out, h.toAPIAccount(account))
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// APIGetAccount returns one account.
func (h *Handlers) APIGetAccount(c *gin.Context) {
	account, err := h.store.GetAccount(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load account")})
		return
	}
	c.JSON(http.StatusOK, h.toAPIAccount(account))
}

// APICreateAccount registers a server account: the URL is validated, the
// credentials are verified by running discovery, and only then are the
// account and its encrypted secret stored.
func (h *Handlers) APICreateAccount(c *gin.Context) {
	var req createAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name, server_url, username and password are required"})
		return
	}

	if err := h.validator.ValidateURL(req.ServerURL, false); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": sanitizeError(err, "Invalid server URL")})
		return
	}

	// Verify credentials and locate the calendar home before persisting
	// anything.
	t, err := caldav.NewTransport(req.ServerURL, req.Username, req.Password)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": categorizeConnectionError(err)})
		return
	}
	disco, err := caldav.Discover(c.Request.Context(), t)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, caldav.ErrAuthFailed) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": categorizeConnectionError(err)})
		return
	}

	account := &store.Account{
		Name:         req.Name,
		ServerURL:    req.ServerURL,
		Username:     req.Username,
		PrincipalURL: disco.PrincipalURL,
		HomeSetURL:   disco.CalendarHomeURL,
		IsDefault:    req.IsDefault,
	}
	if err := h.store.CreateAccount(account); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to create account")})
		return
	}
	if err := h.vault.SetPassword(account.ID, req.Password); err != nil {
		// Without a secret the account can never sync; roll it back.
		_ = h.store.DeleteAccount(account.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to store credentials")})
		return
	}

	cals, err := h.engine.DiscoverCalendars(c.Request.Context(), account.ID)
	if err != nil {
		c.JSON(http.StatusCreated, gin.H{
			"account": h.toAPIAccount(account),
			"warning": sanitizeError(err, "Account created but calendar discovery failed"),
		})
		return
	}

	h.scheduler.AddJob(account.ID)
	h.scheduler.TriggerSync(account.ID)

	c.JSON(http.StatusCreated, gin.H{
		"account":   h.toAPIAccount(account),
		"calendars": len(cals),
	})
}

// APIRediscoverAccount re-runs discovery for an existing account, picking
// up calendars created on the server since registration.
func (h *Handlers) APIRediscoverAccount(c *gin.Context) {
	id := c.Param("id")

	account, err := h.store.GetAccount(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to load account")})
		return
	}
	if account.IsLocal() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "The local account has no server to discover"})
		return
	}

	cals, err := h.engine.DiscoverCalendars(c.Request.Context(), id)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, caldav.ErrAuthFailed) {
			status = http.StatusUnauthorized
		}
		c.JSON(status, gin.H{"error": categorizeConnectionError(err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"calendars": len(cals)})
}

// APISetDefaultAccount marks an account as the default.
func (h *Handlers) APISetDefaultAccount(c *gin.Context) {
	if err := h.store.SetDefaultAccount(c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to set default account")})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// APIDeleteAccount removes an account, its calendars and events, its
// stored secret and its background job.
func (h *Handlers) APIDeleteAccount(c *gin.Context) {
	id := c.Param("id")

	if err := h.store.DeleteAccount(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Account not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": sanitizeError(err, "Failed to delete account")})
		return
	}

	if err := h.vault.DeletePassword(id); err != nil {
		log.Printf("Failed to delete secret for account %s: %v", id, err)
	}
	h.scheduler.RemoveJob(id)

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
