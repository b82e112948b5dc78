package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/rovercam/internal/api/models"
	"github.com/smazurov/rovercam/internal/metrics"
)

func (s *Server) registerStatusRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-status",
		Method:      http.MethodGet,
		Path:        "/api/status",
		Summary:     "Status",
		Description: "Capture supervisor state, per-source counters, connected viewers and serial link state",
		Tags:        []string{"system"},
	}, func(_ context.Context, _ *struct{}) (*models.StatusResponse, error) {
		data := models.StatusData{
			Camera:   s.options.Camera.Status(),
			Counters: metrics.GetAllSourceCounters(),
			Stream:   models.StreamStatus{Consumers: s.options.Feed.Count()},
			Link:     s.options.Link.Status(),
		}
		if f, ok := s.options.Feed.Latest(); ok {
			data.Stream.LastSeq = f.Seq
			data.Stream.Placeholder = f.Placeholder
		}
		return &models.StatusResponse{Body: data}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-snapshot",
		Method:      http.MethodGet,
		Path:        "/api/snapshot",
		Summary:     "Snapshot",
		Description: "The most recent frame as a JPEG. This may be the unavailable placeholder.",
		Tags:        []string{"video"},
		Errors:      []int{503},
	}, func(_ context.Context, _ *struct{}) (*models.SnapshotOutput, error) {
		f, ok := s.options.Feed.Latest()
		if !ok || len(f.JPEG) == 0 {
			return nil, huma.Error503ServiceUnavailable("No frame captured yet")
		}
		return &models.SnapshotOutput{
			ContentType:  "image/jpeg",
			CacheControl: "no-store",
			FrameSeq:     strconv.FormatUint(f.Seq, 10),
			Body:         f.JPEG,
		}, nil
	})
}
