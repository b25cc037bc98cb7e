package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"illustrated_answer/apperr"
	"illustrated_answer/logger"
	"illustrated_answer/pipeline"
	"illustrated_answer/store"
	"illustrated_answer/vision"
)

const apiKeyHeader = "X-Api-Key"

// Runner is satisfied by *pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request, observer func(pipeline.Event)) (pipeline.Result, error)
}

type Options struct {
	Timeout time.Duration
	// DirectOnly disables the relay for every request.
	DirectOnly bool
	// APIKey is used when a request carries none.
	APIKey       string
	AllowOrigins []string
}

type Server struct {
	runner Runner
	shares store.ShareRepo
	views  store.ViewCounter
	log    *logger.Logger
	opts   Options
}

// New wires the HTTP surface. views may be nil, in which case the share repo
// counts views itself.
func New(runner Runner, shares store.ShareRepo, views store.ViewCounter, log *logger.Logger, opts Options) (*Server, error) {
	if runner == nil {
		return nil, errors.New("pipeline runner required")
	}
	if shares == nil {
		return nil, errors.New("share repo required")
	}
	if views == nil {
		views = shares
	}
	if log == nil {
		log = logger.Nop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Server{
		runner: runner,
		shares: shares,
		views:  views,
		log:    log.With("service", "HTTPServer"),
		opts:   opts,
	}, nil
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.logMiddleware())
	r.Use(s.corsMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	api := r.Group("/api")
	api.POST("/answers", s.handleAnswerCreate)
	api.GET("/answers/stream", s.handleAnswerStream)
	api.GET("/shares/:id", s.handleShareGet)
	return r
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Content-Type", apiKeyHeader},
		MaxAge:       12 * time.Hour,
	}
	if len(s.opts.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = s.opts.AllowOrigins
	}
	return cors.New(cfg)
}

// --- Handlers ---

type answerCreateReq struct {
	Question   string `json:"question"`
	APIKey     string `json:"api_key"`
	DirectOnly bool   `json:"direct_only"`
}

type imageResp struct {
	Title          string `json:"title"`
	License        string `json:"license"`
	Attribution    string `json:"attribution,omitempty"`
	DescriptionURL string `json:"description_url,omitempty"`
}

type answerResp struct {
	ShareID    string      `json:"share_id,omitempty"`
	HTML       string      `json:"html"`
	Terms      []string    `json:"terms"`
	Images     []imageResp `json:"images"`
	Unresolved []string    `json:"unresolved,omitempty"`
}

type errorResp struct {
	Error string      `json:"error"`
	Kind  apperr.Kind `json:"kind,omitempty"`
}

func (s *Server) handleAnswerCreate(c *gin.Context) {
	var req answerCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResp{Error: err.Error(), Kind: apperr.KindValidation})
		return
	}
	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = c.GetHeader(apiKeyHeader)
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.Timeout)
	defer cancel()
	res, err := s.runner.Run(ctx, s.pipelineRequest(req.Question, apiKey, req.DirectOnly), nil)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, s.finish(ctx, req.Question, res))
}

func (s *Server) handleAnswerStream(c *gin.Context) {
	question := c.Query("question")
	directOnly := c.Query("direct_only") == "true"

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.Timeout)
	defer cancel()

	send := func(event string, data any) {
		c.SSEvent(event, data)
		c.Writer.Flush()
	}
	res, err := s.runner.Run(ctx, s.pipelineRequest(question, c.GetHeader(apiKeyHeader), directOnly), func(e pipeline.Event) {
		if pv, ok := e.Preview(); ok {
			send("preview", pv)
			return
		}
		send("progress", e)
	})
	if err != nil {
		s.log.Warn("streamed answer failed", "error", err)
		send("error", errorResp{Error: err.Error(), Kind: apperr.KindOf(err)})
		return
	}
	send("done", s.finish(ctx, question, res))
}

func (s *Server) handleShareGet(c *gin.Context) {
	id := c.Param("id")
	if !store.ValidID(id) {
		c.JSON(http.StatusNotFound, errorResp{Error: store.ErrNotFound.Error()})
		return
	}
	ctx := c.Request.Context()
	share, err := s.shares.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return
	}
	if err != nil {
		s.log.Error("share lookup failed", "share_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, errorResp{Error: "share lookup failed"})
		return
	}
	if views, err := s.views.IncrementViews(ctx, id); err != nil {
		s.log.Warn("view count failed", "share_id", id, "error", err)
	} else {
		share.Views = views
	}
	c.JSON(http.StatusOK, share)
}

// --- Helpers ---

func (s *Server) pipelineRequest(question, apiKey string, directOnly bool) pipeline.Request {
	if strings.TrimSpace(apiKey) == "" {
		apiKey = s.opts.APIKey
	}
	strategy := vision.RelayFirst
	if directOnly || s.opts.DirectOnly {
		strategy = vision.DirectOnly
	}
	return pipeline.Request{Question: question, APIKey: apiKey, Strategy: strategy}
}

// finish stores the answer for sharing. A storage failure does not fail the
// request; the response just has no share id.
func (s *Server) finish(ctx context.Context, question string, res pipeline.Result) answerResp {
	out := answerResp{
		HTML:       res.Answer.HTML,
		Terms:      res.Terms,
		Unresolved: res.Answer.Unresolved,
	}
	for _, img := range res.Images {
		out.Images = append(out.Images, imageResp{
			Title:          img.Title,
			License:        img.License,
			Attribution:    img.Attribution,
			DescriptionURL: img.DescriptionURL,
		})
	}
	share := store.NewShare(question, res.Answer.HTML, res.Answer.Summary)
	if err := s.shares.Insert(ctx, share); err != nil {
		s.log.Error("share insert failed", "error", err)
		return out
	}
	out.ShareID = share.ID
	return out
}

func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("answer failed", "error", err)
	}
	c.JSON(status, errorResp{Error: err.Error(), Kind: apperr.KindOf(err)})
}

func statusFor(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindCredentialRequired:
		return http.StatusBadRequest
	case apperr.KindEmptyResult:
		return http.StatusNotFound
	case apperr.KindModelCall:
		return http.StatusBadGateway
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) logMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
