package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/rovercam/internal/api/models"
)

func (s *Server) registerLinkRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-link",
		Method:      http.MethodGet,
		Path:        "/api/link",
		Summary:     "Serial Link",
		Description: "State of the serial link to the microcontroller",
		Tags:        []string{"control"},
	}, func(_ context.Context, _ *struct{}) (*models.LinkStatusResponse, error) {
		return &models.LinkStatusResponse{Body: s.options.Link.Status()}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-serial-ports",
		Method:      http.MethodGet,
		Path:        "/api/link/ports",
		Summary:     "Serial Ports",
		Description: "Serial ports present on the host, with USB details where available",
		Tags:        []string{"control"},
		Errors:      []int{500},
	}, func(_ context.Context, _ *struct{}) (*models.LinkPortsResponse, error) {
		ports, err := s.options.ListPorts()
		if err != nil {
			return nil, huma.Error500InternalServerError("Failed to list serial ports", err)
		}
		resp := &models.LinkPortsResponse{}
		resp.Body.Ports = ports
		return resp, nil
	})
}
