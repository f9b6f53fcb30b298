// Package server is the HTTP face of the mock: the Bot API surface
// under /bot<token>/<method> and the test-harness surface under
// /client. Handlers are thin; all state lives in the bus, the action
// tracker and the file store.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-co-op/gocron/v2"
	"golang.org/x/sync/errgroup"

	"github.com/edgard/telemock/internal/actions"
	"github.com/edgard/telemock/internal/bus"
	"github.com/edgard/telemock/internal/config"
	"github.com/edgard/telemock/internal/delivery"
	"github.com/edgard/telemock/internal/filestore"
	"github.com/edgard/telemock/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// ctxTokenKey carries the validated bot token through a request.
const ctxTokenKey = "bot_token"

func botToken(c *gin.Context) string {
	return c.GetString(ctxTokenKey)
}

// Server wires the HTTP surfaces to the shared state.
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	state   *bus.Bus
	engine  *delivery.Engine
	files   *filestore.Store
	tracker *actions.Tracker

	router     *gin.Engine
	botMethods map[string]gin.HandlerFunc
}

// New builds the server and its routes. The caller is expected to have
// registered the delivery engine as the bus observer already.
func New(cfg *config.Config, log *slog.Logger, state *bus.Bus, engine *delivery.Engine, files *filestore.Store, tracker *actions.Tracker) *Server {
	s := &Server{
		cfg:     cfg,
		log:     log.With("component", "server"),
		state:   state,
		engine:  engine,
		files:   files,
		tracker: tracker,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), logger.Middleware(log))

	r.GET("/health", s.handleHealth)

	cg := r.Group("/client")
	cg.POST("/sendMessage", s.handleClientSendMessage)
	cg.POST("/sendCommand", s.handleClientSendCommand)
	cg.POST("/sendCallback", s.handleClientSendCallback)
	cg.POST("/sendDocument", s.handleClientSendDocument)
	cg.POST("/sendPhoto", s.handleClientSendPhoto)
	cg.POST("/sendAudio", s.handleClientSendAudio)
	cg.POST("/sendVideo", s.handleClientSendVideo)
	cg.POST("/sendVoice", s.handleClientSendVoice)
	cg.POST("/sendAnimation", s.handleClientSendAnimation)
	cg.GET("/getUpdates", s.handleClientGetUpdates)
	cg.GET("/getUpdatesHistory", s.handleClientGetUpdatesHistory)
	cg.GET("/getMedia/:file_id", s.handleClientGetMedia)
	cg.GET("/getChatActions", s.handleClientGetChatActions)
	cg.GET("/getAllChatActions", s.handleClientGetAllChatActions)
	cg.GET("/getAnsweredCallbacks", s.handleClientGetAnsweredCallbacks)
	cg.POST("/reset", s.handleClientReset)

	// Bot tokens contain ':' and share their path position with /client,
	// which gin's router cannot express as a parameter. The Bot API
	// surface is dispatched from the no-route handler instead.
	s.botMethods = map[string]gin.HandlerFunc{
		"getMe":               s.handleGetMe,
		"getUpdates":          s.handleGetUpdates,
		"setWebhook":          s.handleSetWebhook,
		"deleteWebhook":       s.handleDeleteWebhook,
		"getWebhookInfo":      s.handleGetWebhookInfo,
		"sendMessage":         s.handleSendMessage,
		"editMessageText":     s.handleEditMessageText,
		"deleteMessage":       s.handleDeleteMessage,
		"sendChatAction":      s.handleSendChatAction,
		"answerCallbackQuery": s.handleAnswerCallbackQuery,
		"sendDocument":        s.handleSendDocument,
		"sendPhoto":           s.handleSendPhoto,
		"sendAudio":           s.handleSendAudio,
		"sendVideo":           s.handleSendVideo,
		"sendVoice":           s.handleSendVoice,
		"sendAnimation":       s.handleSendAnimation,
		"getFile":             s.handleGetFile,
	}
	r.NoRoute(s.dispatchBotAPI)

	s.router = r
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// dispatchBotAPI routes /bot<token>/<method> and
// /file/bot<token>/<file_id>. Unknown methods succeed with a true
// result so that bot clients calling unmocked methods keep working.
func (s *Server) dispatchBotAPI(c *gin.Context) {
	path := c.Request.URL.Path

	if rest, ok := strings.CutPrefix(path, "/file/bot"); ok {
		token, fileID, found := strings.Cut(rest, "/")
		if !found || fileID == "" {
			respondErr(c, http.StatusNotFound, "Not Found")
			return
		}
		if _, err := bus.ParseToken(token); err != nil {
			respondErr(c, http.StatusUnauthorized, "Unauthorized")
			return
		}
		c.Set(ctxTokenKey, token)
		s.handleFileDownload(c, fileID)
		return
	}

	rest, ok := strings.CutPrefix(path, "/bot")
	if !ok {
		respondErr(c, http.StatusNotFound, "Not Found")
		return
	}
	token, method, found := strings.Cut(rest, "/")
	if !found || method == "" {
		respondErr(c, http.StatusNotFound, "Not Found")
		return
	}
	if _, err := bus.ParseToken(token); err != nil {
		respondErr(c, http.StatusUnauthorized, "Unauthorized")
		return
	}
	c.Set(ctxTokenKey, token)

	if h, ok := s.botMethods[method]; ok {
		h(c)
		return
	}
	s.log.Debug("unmocked method called", "method", method)
	respondOK(c, true)
}

// Run serves HTTP until ctx is canceled, then shuts down gracefully:
// listener first, then the action sweeper and the delivery engine.
func (s *Server) Run(ctx context.Context) error {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	if _, err := sched.NewJob(
		gocron.DurationJob(s.cfg.Actions.SweepInterval),
		gocron.NewTask(func() {
			if n := s.tracker.Sweep(); n > 0 {
				s.log.Debug("expired chat actions purged", "count", n)
			}
		}),
	); err != nil {
		return fmt.Errorf("failed to schedule chat action sweep: %w", err)
	}
	sched.Start()

	srv := &http.Server{
		Addr:    s.cfg.Server.Addr(),
		Handler: s.router,
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		s.log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		shutdownErr := srv.Shutdown(shutdownCtx)

		if err := sched.Shutdown(); err != nil {
			s.log.Error("scheduler shutdown error", "error", err)
		}
		s.engine.Stop()
		return shutdownErr
	})
	return g.Wait()
}
