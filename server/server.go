package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/wfunc/picklo/blob"
	"github.com/wfunc/picklo/broadcast"
	"github.com/wfunc/picklo/engine"
	"github.com/wfunc/picklo/hand"
	"github.com/wfunc/picklo/logger"
	"github.com/wfunc/picklo/monitor"
	"github.com/wfunc/picklo/room"
	"github.com/wfunc/picklo/rpc"
	"github.com/wfunc/picklo/services"
	"github.com/wfunc/picklo/session"
)

// Deps 服务器依赖的组件
type Deps struct {
	Engine  *engine.Engine
	Rooms   *room.Registry
	Hands   *hand.Store
	Scores  *services.ScoreService
	Hub     *broadcast.Hub
	Blobs   blob.Store
	Monitor *monitor.Monitor
	// RPC 可以为空
	RPC *rpc.Server
	// BlobPath 图片的公开路径前缀，例如 /blobs
	BlobPath string
	// Heartbeat 连接读超时为两个周期
	Heartbeat time.Duration
	// Resync 没有通知时 watcher 重新读取的间隔，0 表示关闭
	Resync time.Duration
}

type GameServer struct {
	addr           string
	deps           Deps
	upgrader       websocket.Upgrader
	sessionManager *session.Manager
	httpServer     *http.Server
	baseCtx        context.Context
	cancel         context.CancelFunc
	shutdownOnce   sync.Once
	shutdownChan   chan struct{}
}

func NewGameServer(addr string, deps Deps) *GameServer {
	if deps.BlobPath == "" {
		deps.BlobPath = "/blobs"
	}
	if deps.Heartbeat <= 0 {
		deps.Heartbeat = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &GameServer{
		addr:           addr,
		deps:           deps,
		sessionManager: session.NewManager(),
		baseCtx:        ctx,
		cancel:         cancel,
		shutdownChan:   make(chan struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // 允许所有跨域请求
			},
		},
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Sessions 当前连接
func (s *GameServer) Sessions() *session.Manager {
	return s.sessionManager
}

// Routes builds the HTTP handler: REST under /rooms and /rounds, the
// websocket at /ws, stored images, metrics and a health check.
func (s *GameServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if s.deps.Monitor != nil {
		r.Handle("/metrics", s.deps.Monitor.Handler())
	}
	r.Get("/ws", s.handleWebSocket)
	r.Get(strings.TrimSuffix(s.deps.BlobPath, "/")+"/*", s.handleBlob)

	r.Route("/rooms", func(r chi.Router) {
		r.Post("/", s.handleHost)
		r.Post("/join", s.handleJoin)
		r.Route("/{roomID}", func(r chi.Router) {
			r.Get("/view", s.handleView)
			r.Get("/standings", s.handleStandings)
			r.Get("/online", s.handleOnline)
			r.Post("/picking", s.handleBeginPicking)
			r.Post("/playing", s.handleBeginPlaying)
			r.Post("/start", s.handleStart)
			r.Post("/premium", s.handlePremium)
			r.Post("/players/{playerID}/hand", s.handlePick)
		})
	})
	r.Route("/rounds/{roundID}", func(r chi.Router) {
		r.Get("/winners", s.handleWinners)
		r.Post("/submissions", s.handleSubmit)
		r.Post("/votes", s.handleVote)
		r.Post("/advance", s.handleAdvance)
		r.Post("/next", s.handleNext)
	})
	return r
}

// observe 记录每个路由的耗时
func (s *GameServer) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		route := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		s.deps.Monitor.ObserveRequest(r.Method+" "+route, time.Since(start))
	})
}

func (s *GameServer) Start() error {
	if s.deps.RPC != nil {
		go func() {
			if err := s.deps.RPC.Start(); err != nil {
				logger.Log.Errorf("RPC server stopped: %v", err)
			}
		}()
	}

	logger.Log.Infof("Game server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests, closes every websocket and waits for
// in-flight HTTP requests until ctx expires.
func (s *GameServer) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		close(s.shutdownChan)
		s.cancel()
		err = s.httpServer.Shutdown(ctx)
		s.sessionManager.CloseAll()
		if s.deps.RPC != nil {
			s.deps.RPC.Stop()
		}
	})
	return err
}
