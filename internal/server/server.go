package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/minhtp/drawdash/internal/api"
	"github.com/minhtp/drawdash/internal/arbiter"
	"github.com/minhtp/drawdash/internal/chat"
	"github.com/minhtp/drawdash/internal/domain"
	"github.com/minhtp/drawdash/internal/event"
	"github.com/minhtp/drawdash/internal/lobby"
	"github.com/minhtp/drawdash/internal/round"
	"github.com/minhtp/drawdash/internal/store"
	"github.com/minhtp/drawdash/internal/telemetry"
)

type Config struct {
	HTTP struct {
		Port int32
	}

	Redis struct {
		Addrs  []string
		Pass   string
		Prefix string
	}

	Game struct {
		MaxPlayers       int
		MaxRounds        int
		RaceRoundSeconds int
		TeamRoundSeconds int
		AIThreshold      float64
		Categories       []string
	}
}

// Server is one coordination gateway. It holds no authoritative state:
// several instances may serve the same sessions concurrently, and all
// of them coordinate through the store alone.
type Server struct {
	c Config

	eb *event.Bus

	infra struct {
		redis redis.UniversalClient
		store *store.Redis
	}

	service struct {
		lobby   *lobby.Service
		round   *round.Service
		chat    *chat.Service
		arbiter *arbiter.Service
	}

	http *http.Server

	cancel context.CancelFunc
}

func Init(c Config) (*Server, error) {
	s := &Server{c: c}

	s.eb = event.NewBus()

	if err := s.initInfra(); err != nil {
		return nil, fmt.Errorf("server: init infra: %w", err)
	}

	s.initService()
	s.initAPI()
	return s, nil
}

func (s *Server) initInfra() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	r := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    s.c.Redis.Addrs,
		Password: s.c.Redis.Pass,
	})

	if err := telemetry.MonitorRedis(r); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	if err := r.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}

	s.infra.redis = r
	s.infra.store = store.New(store.Config{
		Redis:  r,
		Prefix: s.c.Redis.Prefix,
	})

	return nil
}

func (s *Server) initService() {
	st := s.infra.store

	s.service.arbiter = arbiter.NewService(arbiter.Config{
		Store:    st,
		EventBus: s.eb,
	})

	s.service.lobby = lobby.NewService(lobby.Config{
		Store:             st,
		EventBus:          s.eb,
		MaxPlayers:        s.c.Game.MaxPlayers,
		MaxRounds:         s.c.Game.MaxRounds,
		RaceRoundDuration: time.Duration(s.c.Game.RaceRoundSeconds) * time.Second,
		TeamRoundDuration: time.Duration(s.c.Game.TeamRoundSeconds) * time.Second,
		AIThreshold:       s.c.Game.AIThreshold,
	})

	s.service.round = round.NewService(round.Config{
		Store:    st,
		EventBus: s.eb,
		Arbiter:  s.service.arbiter,
	})

	s.service.chat = chat.NewService(chat.Config{
		Store:    st,
		EventBus: s.eb,
		Arbiter:  s.service.arbiter,
	})

	s.subscribeAudit()
}

// subscribeAudit logs the game lifecycle, the only server-side record
// of what the clients coordinated among themselves.
func (s *Server) subscribeAudit() {
	log := func(msg string, attrs func(event.Event) []any) event.Handler {
		return func(ctx context.Context, e event.Event) error {
			slog.InfoContext(ctx, msg, attrs(e)...)
			return nil
		}
	}

	s.eb.Subscribe(domain.EventNameSessionCreated, log("session created", func(e event.Event) []any {
		ev := e.(domain.EventSessionCreated)
		return []any{"session", ev.Code, "mode", ev.Mode, "host", ev.HostID}
	}))

	s.eb.Subscribe(domain.EventNameRoundFinished, log("round finished", func(e event.Event) []any {
		ev := e.(domain.EventRoundFinished)
		return []any{"session", ev.Code, "round", ev.Round, "winner", ev.WinnerID, "kind", ev.WinnerKind}
	}))

	s.eb.Subscribe(domain.EventNameGameEnded, log("game ended", func(e event.Event) []any {
		return []any{"session", e.(domain.EventGameEnded).Code}
	}))
}

func (s *Server) initAPI() {
	e := gin.New()
	e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	pprof.Register(e, "/debug/pprof")
	e.Use(gin.Recovery())

	api.New(api.Config{
		Router:     e,
		Store:      s.infra.store,
		Lobby:      s.service.lobby,
		Round:      s.service.round,
		Chat:       s.service.chat,
		Arbiter:    s.service.arbiter,
		Categories: s.c.Game.Categories,
	})

	s.http = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.c.HTTP.Port),
		Handler:           e,
		ReadHeaderTimeout: 60 * time.Second,
	}
}

func (s *Server) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel

	var eg errgroup.Group

	eg.Go(func() error {
		// Lease upkeep and the disconnect-hook sweeper.
		return s.infra.store.Run(ctx)
	})

	eg.Go(func() error {
		slog.InfoContext(ctx, fmt.Sprintf("server: HTTP listening on port %d", s.c.HTTP.Port))
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		slog.ErrorContext(ctx, "server: shutdown with error", "error", err)
	}
}

func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.http.Shutdown(ctx); err != nil {
		slog.ErrorContext(ctx, "server: shutdown HTTP failed", "error", err)
	}

	if s.cancel != nil {
		s.cancel()
	}

	if err := s.infra.store.Close(ctx); err != nil {
		slog.ErrorContext(ctx, "server: release store lease failed", "error", err)
	}

	s.eb.Stop()

	slog.InfoContext(ctx, "server: shutdown completed")
}
