package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	autoreply "github.com/goliatone/go-autoreply"
	"github.com/goliatone/go-autoreply/command"
	"github.com/goliatone/go-autoreply/core"
	"github.com/goliatone/go-autoreply/query"
	gocmd "github.com/goliatone/go-command"
	glog "github.com/goliatone/go-logger/glog"
)

type validator interface {
	Validate() error
}

// Server exposes the facade over HTTP.
type Server struct {
	facade  *autoreply.Facade
	metrics http.Handler
	logger  core.Logger
}

type Option func(*Server)

// WithMetricsHandler mounts handler on GET /metrics.
func WithMetricsHandler(handler http.Handler) Option {
	return func(s *Server) {
		s.metrics = handler
	}
}

func WithLogger(logger core.Logger) Option {
	return func(s *Server) {
		s.logger = glog.Ensure(logger)
	}
}

func NewServer(facade *autoreply.Facade, opts ...Option) *Server {
	server := &Server{facade: facade, logger: glog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(server)
		}
	}
	return server
}

// Router builds the gin engine with every autoreply route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	connections := router.Group("/connections")
	connections.GET("", s.listConnections)
	connections.GET("/:account/status", s.connectionStatus)
	connections.POST("/:account/refresh", s.refreshConnection)
	connections.POST("/:account/send", s.sendReply)
	connections.DELETE("/:account", s.disconnect)
	connections.POST("/:account/authorize/:platform", s.startAuthorization)
	connections.POST("/:account/token/:platform", s.connectWithToken)

	router.GET("/oauth/callback", s.oauthCallback)

	stats := router.Group("/stats")
	stats.GET("/rate", s.rateStatus)
	stats.GET("/errors", s.errorStats)
	stats.GET("/security", s.securityStatus)

	if s.metrics != nil {
		router.GET("/metrics", gin.WrapH(s.metrics))
	}
	return router
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		startedAt := time.Now()
		c.Next()
		s.logger.Debug("http request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(startedAt).Milliseconds(),
		)
	}
}

func (s *Server) listConnections(c *gin.Context) {
	statuses, err := s.facade.Queries().ListConnections.Query(c.Request.Context(), query.ListConnectionsMessage{})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"connections": statuses})
}

func (s *Server) connectionStatus(c *gin.Context) {
	msg := query.ConnectionStatusMessage{AccountID: c.Param("account")}
	if !validate(c, msg) {
		return
	}
	status, err := s.facade.Queries().ConnectionStatus.Query(c.Request.Context(), msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) startAuthorization(c *gin.Context) {
	msg := command.StartAuthorizationMessage{
		Platform:  core.Platform(c.Param("platform")),
		AccountID: c.Param("account"),
	}
	started, err := execute[command.StartAuthorizationMessage, command.AuthorizationStarted](c, s.facade.Commands().StartAuthorization, msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, started)
}

type tokenRequest struct {
	AccessToken  string     `json:"access_token" binding:"required"`
	RefreshToken string     `json:"refresh_token"`
	ExpiresAt    *time.Time `json:"expires_at"`
	ExpiresIn    int        `json:"expires_in" binding:"gte=0"`
}

func (s *Server) connectWithToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid token payload", err)
		return
	}
	msg := command.ConnectWithTokenMessage{
		Platform:     core.Platform(c.Param("platform")),
		AccountID:    c.Param("account"),
		AccessToken:  req.AccessToken,
		RefreshToken: req.RefreshToken,
	}
	switch {
	case req.ExpiresAt != nil:
		msg.ExpiresAt = *req.ExpiresAt
	case req.ExpiresIn > 0:
		msg.ExpiresAt = time.Now().Add(time.Duration(req.ExpiresIn) * time.Second)
	}
	status, err := execute[command.ConnectWithTokenMessage, core.ConnectionStatus](c, s.facade.Commands().ConnectWithToken, msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// oauthCallback receives the platform redirect. An error parameter cancels the
// pending attempt; otherwise the code completes it.
func (s *Server) oauthCallback(c *gin.Context) {
	state := c.Query("state")
	if reason := strings.TrimSpace(c.Query("error")); reason != "" {
		if description := strings.TrimSpace(c.Query("error_description")); description != "" {
			reason = reason + ": " + description
		}
		msg := command.CancelAuthorizationMessage{State: state, Reason: reason}
		if !validate(c, msg) {
			return
		}
		if err := s.facade.Commands().CancelAuthorization.Execute(c.Request.Context(), msg); err != nil {
			renderError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"cancelled": true, "reason": reason})
		return
	}

	msg := command.DeliverAuthorizationMessage{State: state, Code: c.Query("code")}
	status, err := execute[command.DeliverAuthorizationMessage, core.ConnectionStatus](c, s.facade.Commands().DeliverAuthorization, msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) refreshConnection(c *gin.Context) {
	msg := command.RefreshConnectionMessage{AccountID: c.Param("account")}
	outcome, err := execute[command.RefreshConnectionMessage, command.RefreshOutcome](c, s.facade.Commands().RefreshConnection, msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

type sendRequest struct {
	Message     string `json:"message" binding:"required"`
	RecipientID string `json:"recipient_id"`
}

func (s *Server) sendReply(c *gin.Context) {
	var req sendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid send payload", err)
		return
	}
	msg := command.SendReplyMessage{AccountID: c.Param("account"), Message: req.Message, RecipientID: req.RecipientID}
	result, err := execute[command.SendReplyMessage, core.SendResult](c, s.facade.Commands().SendReply, msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) disconnect(c *gin.Context) {
	msg := command.DisconnectMessage{AccountID: c.Param("account")}
	if !validate(c, msg) {
		return
	}
	if err := s.facade.Commands().Disconnect.Execute(c.Request.Context(), msg); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) rateStatus(c *gin.Context) {
	report, err := s.facade.Queries().RateLimitStatus.Query(c.Request.Context(), query.RateLimitStatusMessage{AccountID: c.Query("account")})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) errorStats(c *gin.Context) {
	msg := query.ErrorStatsMessage{}
	if raw := strings.TrimSpace(c.Query("recent")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			badRequest(c, "recent must be an integer", err)
			return
		}
		msg.RecentLimit = limit
	}
	if !validate(c, msg) {
		return
	}
	stats, err := s.facade.Queries().ErrorStats.Query(c.Request.Context(), msg)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (s *Server) securityStatus(c *gin.Context) {
	status, err := s.facade.Queries().SecurityStatus.Query(c.Request.Context(), query.SecurityStatusMessage{})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func validate(c *gin.Context, msg validator) bool {
	if err := msg.Validate(); err != nil {
		renderError(c, err)
		return false
	}
	return true
}

// execute validates msg, runs the command and returns the result it stored.
func execute[T validator, R any](c *gin.Context, cmd gocmd.Commander[T], msg T) (R, error) {
	var zero R
	if err := msg.Validate(); err != nil {
		return zero, err
	}
	collector := gocmd.NewResult[R]()
	ctx := gocmd.ContextWithResult(c.Request.Context(), collector)
	if err := cmd.Execute(ctx, msg); err != nil {
		return zero, err
	}
	result, _ := collector.Load()
	return result, nil
}
