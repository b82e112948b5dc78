package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/rovercam/internal/api/models"
	"github.com/smazurov/rovercam/internal/updater"
)

func message(text string) *models.MessageResponse {
	resp := &models.MessageResponse{}
	resp.Body.Message = text
	return resp
}

// registerUpdateRoutes registers the self-update endpoints when an update
// service is configured.
func (s *Server) registerUpdateRoutes() {
	svc := s.options.UpdateService
	if svc == nil {
		return
	}

	if !svc.IsEnabled() {
		s.registerDisabledUpdateRoutes(svc.DisabledReason())
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "check-updates",
		Method:      http.MethodGet,
		Path:        "/api/update/check",
		Summary:     "Check for Updates",
		Description: "Check if a newer release is available without downloading it",
		Tags:        []string{"update"},
		Errors:      []int{404, 409, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateCheckResponse, error) {
		info, err := svc.CheckForUpdate(ctx)
		if err != nil {
			return nil, mapUpdateError(err)
		}
		return &models.UpdateCheckResponse{
			Body: models.UpdateCheckData{
				CurrentVersion:  info.CurrentVersion,
				LatestVersion:   info.LatestVersion,
				ReleaseNotes:    info.ReleaseNotes,
				ReleaseURL:      info.ReleaseURL,
				PublishedAt:     info.PublishedAt,
				AssetSize:       info.AssetSize,
				UpdateAvailable: info.UpdateAvailable,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-update-status",
		Method:      http.MethodGet,
		Path:        "/api/update/status",
		Summary:     "Get Update Status",
		Tags:        []string{"update"},
	}, func(ctx context.Context, _ *struct{}) (*models.UpdateStatusResponse, error) {
		st := svc.GetStatus(ctx)
		return &models.UpdateStatusResponse{
			Body: models.UpdateStatusData{
				State:           string(st.State),
				CurrentVersion:  st.CurrentVersion,
				TargetVersion:   st.TargetVersion,
				Error:           st.Error,
				LastChecked:     st.LastChecked,
				BackupAvailable: st.BackupAvailable,
				BackupVersion:   st.BackupVersion,
			},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "apply-update",
		Method:      http.MethodPost,
		Path:        "/api/update/apply",
		Summary:     "Apply Update",
		Description: "Download and install the newest release, then restart.",
		Tags:        []string{"update"},
		Errors:      []int{400, 409, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := svc.ApplyUpdate(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return message("Update applied, restarting..."), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "rollback-update",
		Method:      http.MethodPost,
		Path:        "/api/update/rollback",
		Summary:     "Rollback Update",
		Description: "Restore the previous binary, then restart.",
		Tags:        []string{"update"},
		Errors:      []int{404, 500},
	}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := svc.Rollback(ctx); err != nil {
			return nil, mapUpdateError(err)
		}
		return message("Rollback complete, restarting..."), nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "restart-service",
		Method:      http.MethodPost,
		Path:        "/api/update/restart",
		Summary:     "Restart Service",
		Tags:        []string{"update"},
		Errors:      []int{500},
	}, func(ctx context.Context, _ *struct{}) (*models.MessageResponse, error) {
		if err := svc.Restart(ctx); err != nil {
			return nil, huma.Error500InternalServerError(err.Error())
		}
		return message("Restarting..."), nil
	})
}

// registerDisabledUpdateRoutes answers 503 on every update endpoint.
func (s *Server) registerDisabledUpdateRoutes(reason string) {
	disabled := func(_ context.Context, _ *struct{}) (*struct{}, error) {
		return nil, huma.Error503ServiceUnavailable("Update service disabled: " + reason)
	}
	for _, op := range []struct{ id, method, path string }{
		{"check-updates", http.MethodGet, "/api/update/check"},
		{"get-update-status", http.MethodGet, "/api/update/status"},
		{"apply-update", http.MethodPost, "/api/update/apply"},
		{"rollback-update", http.MethodPost, "/api/update/rollback"},
	} {
		huma.Register(s.api, huma.Operation{
			OperationID: op.id,
			Method:      op.method,
			Path:        op.path,
			Summary:     "Update (disabled)",
			Tags:        []string{"update"},
			Errors:      []int{503},
		}, disabled)
	}
}

// mapUpdateError converts updater errors to HTTP errors.
func mapUpdateError(err error) error {
	var ue *updater.Error
	if !errors.As(err, &ue) {
		return huma.Error500InternalServerError(err.Error())
	}
	switch ue.Code {
	case updater.ErrCodeInvalidState:
		return huma.Error409Conflict(ue.Message)
	case updater.ErrCodeNoUpdate:
		return huma.Error400BadRequest(ue.Message)
	case updater.ErrCodeNotFound, updater.ErrCodeNoBackup:
		return huma.Error404NotFound(ue.Message)
	case updater.ErrCodeDisabled:
		return huma.Error503ServiceUnavailable(ue.Message)
	default:
		return huma.Error500InternalServerError(ue.Message)
	}
}
