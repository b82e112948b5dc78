package api

import (
	"context"
	"net/http"
	"slices"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/rovercam/internal/api/models"
)

// registerLEDRoutes registers the LED override endpoints. The LED manager
// reapplies the automatic state on the next camera or link event.
func (s *Server) registerLEDRoutes() {
	ctrl := s.options.LEDController
	if ctrl == nil {
		s.logger.Debug("LED controller not available, skipping LED routes")
		return
	}

	huma.Register(s.api, huma.Operation{
		OperationID: "control-led",
		Method:      http.MethodPost,
		Path:        "/api/leds",
		Summary:     "Control LED",
		Description: "Switch the LED of a role on or off with an optional pattern.",
		Tags:        []string{"leds"},
		Errors:      []int{400},
	}, func(_ context.Context, input *models.LEDRequest) (*struct{}, error) {
		if !slices.Contains(ctrl.Available(), input.Body.Role) {
			return nil, huma.Error400BadRequest("Unknown LED role " + input.Body.Role)
		}
		pattern := ""
		if input.Body.Pattern != nil {
			pattern = *input.Body.Pattern
		}
		if err := ctrl.Set(input.Body.Role, input.Body.Enabled, pattern); err != nil {
			return nil, huma.Error400BadRequest("Failed to control LED", err)
		}
		return &struct{}{}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-led-capabilities",
		Method:      http.MethodGet,
		Path:        "/api/leds/capabilities",
		Summary:     "Get LED Capabilities",
		Tags:        []string{"leds"},
	}, func(_ context.Context, _ *struct{}) (*models.LEDCapabilitiesResponse, error) {
		resp := &models.LEDCapabilitiesResponse{}
		resp.Body.Roles = ctrl.Available()
		resp.Body.Patterns = ctrl.Patterns()
		return resp, nil
	})

	s.logger.Info("LED routes registered")
}
