// Package api serves the HTTP side of the relay: account registration,
// login, user search, the online list, the WebSocket endpoint, health and
// metrics.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/andy6609/chat-relay/internal/identity"
	"github.com/andy6609/chat-relay/internal/presence"
)

// TokenIssuer hands out the token a client presents when it joins.
type TokenIssuer interface {
	Issue(username string) (token string, expireAt time.Time, err error)
}

type OnlineLister interface {
	Online() []presence.Identity
}

type Deps struct {
	Users  identity.Store
	Tokens TokenIssuer
	Online OnlineLister
	WS     http.HandlerFunc // nil leaves /ws unrouted
	Logger *slog.Logger

	// AllowedOrigins are the browser origins allowed to call the API.
	// Empty or "*" allows any.
	AllowedOrigins []string
}

type handlers struct {
	users  identity.Store
	tokens TokenIssuer
	online OnlineLister
	logger *slog.Logger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{users: d.Users, tokens: d.Tokens, online: d.Online, logger: d.Logger}

	r := gin.New()
	r.Use(gin.Recovery(), corsMiddleware(d.AllowedOrigins), requestLogger(d.Logger))

	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.POST("/register", h.register)
	r.POST("/login", h.login)
	r.GET("/users", h.searchUsers)
	r.GET("/online", h.listOnline)
	if d.WS != nil {
		r.GET("/ws", gin.WrapF(d.WS))
	}
	return r
}

type credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userEntry struct {
	Username string `json:"username"`
}

func (h *handlers) health(c *gin.Context) {
	c.String(http.StatusOK, "chat relay is running")
}

func (h *handlers) register(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	err := h.users.Register(c.Request.Context(), req.Username, req.Password)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"message": "User registered successfully"})
	case errors.Is(err, identity.ErrUsernameTaken):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username already exists"})
	case errors.Is(err, identity.ErrUsernameInvalid), errors.Is(err, identity.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username is not valid"})
	default:
		h.logger.Error("registration failed", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Registration failed"})
	}
}

func (h *handlers) login(c *gin.Context) {
	var req credentials
	if err := c.ShouldBindJSON(&req); err != nil || req.Username == "" || req.Password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	ok, err := h.users.VerifyCredentials(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		h.logger.Error("login failed", "username", req.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	resp := gin.H{"message": "Login successful", "username": req.Username}
	if h.tokens != nil {
		token, exp, err := h.tokens.Issue(req.Username)
		if err != nil {
			h.logger.Error("token issue failed", "username", req.Username, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Login failed"})
			return
		}
		resp["token"] = token
		resp["expiresAt"] = exp.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *handlers) searchUsers(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names, err := h.users.SearchUsers(ctx, c.Query("search"))
	if err != nil {
		h.logger.Error("user search failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Search failed"})
		return
	}
	out := make([]userEntry, len(names))
	for i, n := range names {
		out[i] = userEntry{Username: n}
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) listOnline(c *gin.Context) {
	ids := h.online.Online()
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = string(id)
	}
	c.JSON(http.StatusOK, gin.H{"users": names})
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
