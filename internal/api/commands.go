package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/rovercam/internal/link"
	"github.com/smazurov/rovercam/internal/logging"
)

// Route labels for metrics and CommandSentEvent.
const (
	RouteJoystick = "joystick"
	RouteRun      = "run"
	RouteSocket   = "ws"
)

// commandResult is the body of every command response.
type commandResult struct {
	Status  string          `json:"status"`
	Sent    json.RawMessage `json:"sent,omitempty"`
	Message string          `json:"message,omitempty"`
}

// forward validates payload, hands it to the link and returns the HTTP
// status and JSON body to answer with. A missing link is not an error for
// the caller.
func (s *Server) forward(route string, payload []byte) (int, []byte) {
	line, err := link.Encode(payload)
	if err != nil {
		return commandError(http.StatusBadRequest, err)
	}
	sent := bytes.TrimSuffix(line, []byte{'\n'})

	if _, err := s.options.Link.Send(route, sent); err != nil {
		switch {
		case errors.Is(err, link.ErrLinkUnavailable):
			s.logger.Debug("Command not delivered", "route", route, "error", err)
		case errors.Is(err, link.ErrMalformedCommand):
			return commandError(http.StatusBadRequest, err)
		default:
			s.logger.Error("Command failed", "route", route, "error", err)
			return commandError(http.StatusInternalServerError, err)
		}
	}

	body, err := json.Marshal(commandResult{Status: "ok", Sent: sent})
	if err != nil {
		return commandError(http.StatusInternalServerError, err)
	}
	return http.StatusOK, body
}

func commandError(status int, err error) (int, []byte) {
	body, _ := json.Marshal(commandResult{Status: "error", Message: err.Error()})
	return status, body
}

// commandResponseSchema documents commandResult in the OpenAPI document.
var commandResponseSchema = &huma.Schema{
	Type: huma.TypeObject,
	Properties: map[string]*huma.Schema{
		"status":  {Type: huma.TypeString, Enum: []any{"ok", "error"}},
		"sent":    {Type: huma.TypeObject, Description: "The forwarded line", AdditionalProperties: true},
		"message": {Type: huma.TypeString, Description: "Why the command was rejected"},
	},
	Required: []string{"status"},
}

// registerCommandRoutes mounts /joystick and /run on the mux. The body is
// any JSON object and is forwarded untouched, so the routes bypass huma's
// request validation and are only described in the OpenAPI document.
func (s *Server) registerCommandRoutes() {
	for _, r := range []struct {
		route, path, summary, desc string
	}{
		{RouteJoystick, "/joystick", "Joystick", "Forward a joystick state object to the microcontroller as one JSON line."},
		{RouteRun, "/run", "Run Program", "Forward a block program to the microcontroller as one JSON line."},
	} {
		opID := "command-" + r.route
		s.mux.HandleFunc("POST "+r.path, s.commandHandler(r.route, opID))

		jsonBody := func(schema *huma.Schema) map[string]*huma.MediaType {
			return map[string]*huma.MediaType{"application/json": {Schema: schema}}
		}
		s.api.OpenAPI().AddOperation(&huma.Operation{
			OperationID: opID,
			Method:      http.MethodPost,
			Path:        r.path,
			Summary:     r.summary,
			Description: r.desc + " The response echoes the forwarded line.",
			Tags:        []string{"control"},
			RequestBody: &huma.RequestBody{
				Description: "Any JSON object",
				Required:    true,
				Content:     jsonBody(&huma.Schema{Type: huma.TypeObject, AdditionalProperties: true}),
			},
			Responses: map[string]*huma.Response{
				"200": {Description: "Forwarded, or dropped because no link is open", Content: jsonBody(commandResponseSchema)},
				"400": {Description: "Body is not a JSON object", Content: jsonBody(commandResponseSchema)},
				"500": {Description: "Link write failed", Content: jsonBody(commandResponseSchema)},
			},
		})
	}
}

func (s *Server) commandHandler(route, opID string) http.HandlerFunc {
	logger := logging.GetLogger("http")
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var status int
		var body []byte
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, controlReadLimit))
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			status, body = commandError(http.StatusRequestEntityTooLarge, err)
		case err != nil:
			status, body = commandError(http.StatusBadRequest, err)
		default:
			status, body = s.forward(route, payload)
		}

		for _, h := range s.cors {
			w.Header().Set(h[0], h[1])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write(body)

		logRequest(r.Context(), logger, opID, r.Method, status, []slog.Attr{
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		})
	}
}
