package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quizzles/internal/app"
	"quizzles/internal/auth"
	"quizzles/internal/domain"
	"quizzles/internal/metrics"
)

// Deps are the services the HTTP surface is built on.
type Deps struct {
	Auth           *auth.Service
	Catalog        *app.Catalog
	Attempts       *app.AttemptManager
	Feed           *app.Feed
	Metrics        *metrics.Metrics
	Log            zerolog.Logger
	AllowedOrigins []string
	SecureCookies  bool
}

// Server holds the handlers of the quiz API.
type Server struct {
	auth     *auth.Service
	catalog  *app.Catalog
	attempts *app.AttemptManager
	feed     *app.Feed
	metrics  *metrics.Metrics
	log      zerolog.Logger
	secure   bool
	upgrader websocket.Upgrader
}

// NewRouter builds the gin engine with every route mounted.
func NewRouter(d Deps) *gin.Engine {
	setupValidator()

	s := &Server{
		auth:     d.Auth,
		catalog:  d.Catalog,
		attempts: d.Attempts,
		feed:     d.Feed,
		metrics:  d.Metrics,
		log:      d.Log.With().Str("component", "http").Logger(),
		secure:   d.SecureCookies,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(d.AllowedOrigins),
		},
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestID(), requestLogger(s.log))
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))
	if s.metrics != nil {
		r.Use(s.metrics.Middleware())
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) {
		success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api")
	api.POST("/register", s.register)
	api.POST("/login", s.login)

	authed := api.Group("", s.authenticate())
	authed.POST("/logout", s.logout)
	authed.GET("/user", s.currentUser)
	authed.GET("/my-quizzes", s.myQuizzes)
	authed.GET("/quizzes", s.listQuizzes)
	authed.GET("/quizzes/:id", s.quizDetail)
	authed.POST("/quizzes/:id/start", s.startAttempt)
	authed.GET("/quizzes/:id/response", s.quizAttempt)
	authed.PUT("/quizzes/:id/responses", s.saveProgress)
	authed.POST("/quizzes/:id/submit", s.submitAttempt)
	authed.GET("/attempts/:id", s.attemptByID)

	admin := authed.Group("", requireAdmin())
	admin.POST("/quizzes", s.createQuiz)
	admin.GET("/quizzes/:id/participants", s.participants)
	admin.POST("/quizzes/:id/questions", s.addQuestion)
	admin.GET("/attempts/:id/audit", s.auditAttempt)

	ws := r.Group("/ws", s.authenticate(), requireAdmin())
	ws.GET("/quizzes/:id/participants", s.watchParticipants)

	return r
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization", "X-Request-ID")
	cfg.ExposeHeaders = []string{"X-Request-ID"}
	if len(origins) > 0 {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	} else {
		cfg.AllowAllOrigins = true
	}
	return cfg
}

func originChecker(origins []string) func(*http.Request) bool {
	if len(origins) == 0 {
		return func(*http.Request) bool { return true }
	}
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// fail writes err as an envelope. Unclassified errors are logged and
// reported as internal.
func (s *Server) fail(c *gin.Context, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).
			Str("request_id", c.GetString(ctxRequestID)).
			Str("path", c.FullPath()).
			Msg("request failed")
		fail(c, status, code)
		return
	}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		failWithFields(c, status, code, map[string]string{verr.Field: verr.Reason})
		return
	}
	c.AbortWithStatusJSON(status, Response{
		Error:    &ErrorBody{Code: code, Message: err.Error()},
		Metadata: metadata(c),
	})
}

// pathID parses the :id parameter, writing a 400 when it is malformed.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		fail(c, http.StatusBadRequest, ErrCodeInvalidID)
		return 0, false
	}
	return id, true
}

// bind decodes the JSON body into req, writing a 400 on failure.
func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		failWithFields(c, http.StatusBadRequest, ErrCodeValidation, translateErrors(err))
		return false
	}
	return true
}
