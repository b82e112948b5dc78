package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/gorilla/websocket"
	"github.com/smazurov/rovercam/internal/api/models"
	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/events"
	"github.com/smazurov/rovercam/internal/led"
	"github.com/smazurov/rovercam/internal/link"
	"github.com/smazurov/rovercam/internal/logging"
	"github.com/smazurov/rovercam/internal/updater"
	"github.com/smazurov/rovercam/internal/version"
	"github.com/smazurov/rovercam/ui"
)

// CameraStatus reports the capture supervisor state.
type CameraStatus interface {
	Status() capture.SupervisorStatus
}

// FrameFeed serves /video_feed and exposes the newest frame.
type FrameFeed interface {
	http.Handler
	Latest() (capture.Frame, bool)
	Count() int
}

// CommandLink forwards command payloads to the microcontroller.
type CommandLink interface {
	Send(route string, payload []byte) (link.Ack, error)
	Status() link.ChannelStatus
}

// Options wires the server to the running components. Camera, Feed and
// Link are required; the rest are optional.
type Options struct {
	Camera CameraStatus
	Feed   FrameFeed
	Link   CommandLink

	EventBus          *events.Bus
	LEDController     led.Controller
	UpdateService     updater.Service
	PrometheusHandler http.Handler
	ListPorts         func() ([]link.PortInfo, error)
}

// Server is the HTTP front of rovercam.
type Server struct {
	api        huma.API
	mux        *http.ServeMux
	httpServer *http.Server
	options    *Options
	eventBus   *events.Bus
	upgrader   websocket.Upgrader
	cors       [][2]string
	logger     *slog.Logger
}

// NewServer builds the API on a Go 1.22+ ServeMux.
func NewServer(opts *Options) *Server {
	mux := http.NewServeMux()

	corsConfig := DefaultCORSConfig()
	AddCORSHandler(mux, corsConfig)

	config := huma.DefaultConfig("rovercam API", version.Version)
	config.Info.Description = "Live camera feed and remote-control command relay"
	config.Servers = []*huma.Server{}

	api := humago.New(mux, config)

	bus := opts.EventBus
	if bus == nil {
		bus = events.New()
	}
	if opts.ListPorts == nil {
		opts.ListPorts = link.ListPorts
	}

	server := &Server{
		api:      api,
		mux:      mux,
		options:  opts,
		eventBus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		cors:   corsConfig.headers(),
		logger: logging.GetLogger("api"),
	}

	api.UseMiddleware(NewCORSMiddleware(corsConfig))
	api.UseMiddleware(HTTPLoggingMiddleware)

	if opts.PrometheusHandler != nil {
		mux.Handle("GET /metrics", opts.PrometheusHandler)
	}

	// The MJPEG stream and the websocket hijack or stream the raw response,
	// so they bypass huma.
	mux.Handle("GET /video_feed", opts.Feed)
	mux.HandleFunc("GET /ws/control", server.handleControlSocket)

	server.registerRoutes()

	if frontend, err := ui.Handler(); err == nil {
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if strings.HasPrefix(r.URL.Path, "/api") {
				http.NotFound(w, r)
				return
			}
			frontend.ServeHTTP(w, r)
		})
	}

	return server
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// GetAPI returns the huma API instance.
func (s *Server) GetAPI() huma.API {
	return s.api
}

// Start listens on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.logger.Info("Starting rovercam API server", "addr", addr)
	s.logger.Info("OpenAPI documentation available", "url", "http://"+addr+"/docs")

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s.httpServer.ListenAndServe()
}

// Stop closes the listener and every open connection, including long-lived
// video and SSE streams.
func (s *Server) Stop() error {
	s.logger.Info("Stopping API server")
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// registerRoutes sets up all API endpoints.
func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health-check",
		Method:      http.MethodGet,
		Path:        "/api/health",
		Summary:     "Health",
		Description: "Check API health status",
		Tags:        []string{"health"},
	}, func(ctx context.Context, input *struct{}) (*models.HealthResponse, error) {
		return &models.HealthResponse{
			Body: models.HealthData{
				Status:  "ok",
				Message: "API is healthy",
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-version",
		Method:      http.MethodGet,
		Path:        "/api/version",
		Summary:     "Version",
		Description: "Get application version information",
		Tags:        []string{"system"},
	}, func(ctx context.Context, input *struct{}) (*models.VersionResponse, error) {
		return &models.VersionResponse{Body: version.Get()}, nil
	})

	s.registerCommandRoutes()
	s.registerStatusRoutes()
	s.registerLinkRoutes()
	s.registerLEDRoutes()
	s.registerUpdateRoutes()
	s.registerSSERoutes()
	s.registerLogRoutes()
}
