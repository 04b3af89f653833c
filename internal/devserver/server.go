// Package devserver serves a Backend over the REST API the httpapi client speaks.
package devserver

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"weave/internal/auth"
	"weave/internal/backend"
	"weave/internal/chat"
	"weave/internal/metrics"
)

type Options struct {
	// Token is the accepted bearer token. Empty disables auth.
	Token string
	// RefreshToken is exchanged for new access tokens at the refresh endpoint.
	RefreshToken string
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// Server wraps the router and the backend it serves.
type Server struct {
	router  *gin.Engine
	be      backend.Backend
	log     *zap.Logger
	metrics *metrics.Metrics

	authOn  bool
	refresh string
	mu      sync.RWMutex
	tokens  map[string]struct{}
}

func New(be backend.Backend, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	s := &Server{
		be:      be,
		log:     opts.Logger.Named("devserver"),
		metrics: opts.Metrics,
		authOn:  opts.Token != "",
		refresh: opts.RefreshToken,
		tokens:  make(map[string]struct{}),
	}
	if opts.Token != "" {
		s.tokens[opts.Token] = struct{}{}
	}

	router := gin.New()
	router.Use(gin.Recovery(), s.observe())

	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	router.POST(auth.RefreshPath, s.refreshToken)

	api := router.Group("/api/v1", s.requireBearer())

	// Sessions
	api.GET("/sessions/", s.listSessions)
	api.POST("/sessions/", s.createSession)
	api.GET("/sessions/:id/", s.getSession)
	api.PATCH("/sessions/:id/", s.patchSession)
	api.DELETE("/sessions/:id/", s.deleteSession)

	// Jobs
	api.POST("/chat/complete/", s.submitChat)
	api.POST("/chat/image/", s.submitImage)
	api.GET("/chat/job/:task/", s.pollJob)

	// Folders
	api.GET("/folders/", s.listFolders)
	api.POST("/folders/", s.createFolder)
	api.DELETE("/folders/:id/", s.deleteFolder)

	s.router = router
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("listening", zap.String("addr", addr), zap.Bool("auth", s.authOn))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// observe records request metrics and logs each request.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		s.metrics.RequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(status)).Inc()
		s.metrics.RequestDuration.WithLabelValues(c.Request.Method, path).Observe(elapsed.Seconds())
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("elapsed", elapsed),
		)
	}
}

func (s *Server) requireBearer() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.authOn {
			c.Next()
			return
		}
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || !s.validToken(strings.TrimSpace(token)) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "authentication credentials were not provided or expired"})
			return
		}
		c.Next()
	}
}

func (s *Server) validToken(tok string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[tok]
	return ok
}

// Revoke invalidates an access token.
func (s *Server) Revoke(tok string) {
	s.mu.Lock()
	delete(s.tokens, tok)
	s.mu.Unlock()
}

type refreshBody struct {
	Refresh string `json:"refresh"`
}

func (s *Server) refreshToken(c *gin.Context) {
	var body refreshBody
	if err := c.ShouldBindJSON(&body); err != nil || body.Refresh == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "refresh token required"})
		return
	}
	if s.refresh == "" || body.Refresh != s.refresh {
		c.JSON(http.StatusUnauthorized, gin.H{"detail": "token is invalid or expired"})
		return
	}
	access := uuid.NewString()
	s.mu.Lock()
	s.tokens[access] = struct{}{}
	s.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"access": access})
}

// fail maps backend errors to status codes.
func (s *Server) fail(c *gin.Context, err error) {
	var ve *chat.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"detail": ve.Error()})
	case errors.Is(err, chat.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"detail": err.Error()})
	case errors.Is(err, context.Canceled):
		c.Status(499)
	default:
		s.log.Warn("backend call failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
	}
}

func (s *Server) listSessions(c *gin.Context) {
	list, err := s.be.ListSessions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []chat.Session{}
	}
	c.JSON(http.StatusOK, list)
}

// createBody reads kind as a plain string so an unknown kind falls back to chat.
type createBody struct {
	backend.CreateSessionRequest
	Kind string `json:"kind"`
}

func (s *Server) createSession(c *gin.Context) {
	var body createBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	req := body.CreateSessionRequest
	req.Kind = chat.KindChat
	if k, err := chat.ParseKind(body.Kind); err == nil {
		req.Kind = k
	}
	sess, err := s.be.CreateSession(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

func (s *Server) getSession(c *gin.Context) {
	sess, err := s.be.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) patchSession(c *gin.Context) {
	var body backend.PatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	sess, err := s.be.PatchSession(c.Request.Context(), c.Param("id"), body.Patch())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c *gin.Context) {
	if err := s.be.DeleteSession(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) submitChat(c *gin.Context) {
	var req backend.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "session_id and prompt are required"})
		return
	}
	job, err := s.be.SubmitChat(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.JobsSubmitted.WithLabelValues(chat.KindChat.String()).Inc()
	c.JSON(http.StatusAccepted, backend.SubmitResponse{TaskID: job.TaskID, JobID: job.JobID, MessageID: job.MessageID})
}

func (s *Server) submitImage(c *gin.Context) {
	var req backend.ImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if strings.TrimSpace(req.SessionID) == "" || strings.TrimSpace(req.Prompt) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "session_id and prompt are required"})
		return
	}
	if req.AspectRatio != "" && !slices.Contains(chat.AspectRatios, req.AspectRatio) {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "unsupported aspect_ratio " + req.AspectRatio})
		return
	}
	job, err := s.be.SubmitImage(c.Request.Context(), req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.metrics.JobsSubmitted.WithLabelValues(chat.KindImage.String()).Inc()
	c.JSON(http.StatusAccepted, backend.SubmitResponse{TaskID: job.TaskID, JobID: job.JobID, MessageID: job.MessageID})
}

func (s *Server) pollJob(c *gin.Context) {
	st, err := s.be.PollJob(c.Request.Context(), c.Param("task"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *Server) listFolders(c *gin.Context) {
	list, err := s.be.ListFolders(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	if list == nil {
		list = []chat.Folder{}
	}
	c.JSON(http.StatusOK, list)
}

func (s *Server) createFolder(c *gin.Context) {
	var req backend.CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "name is required"})
		return
	}
	f, err := s.be.CreateFolder(c.Request.Context(), req.Name, req.Type)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, f)
}

func (s *Server) deleteFolder(c *gin.Context) {
	if err := s.be.DeleteFolder(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
