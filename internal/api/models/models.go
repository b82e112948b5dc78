// Package models holds the request and response types of the HTTP API.
package models

import (
	"github.com/smazurov/rovercam/internal/capture"
	"github.com/smazurov/rovercam/internal/link"
	"github.com/smazurov/rovercam/internal/metrics"
	"github.com/smazurov/rovercam/internal/version"
)

// Health check models
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

type VersionResponse struct {
	Body version.Info
}

// StreamStatus describes the video fan-out.
type StreamStatus struct {
	Consumers   int    `json:"consumers" example:"2" doc:"Connected /video_feed clients"`
	LastSeq     uint64 `json:"last_seq" doc:"Sequence number of the newest frame"`
	Placeholder bool   `json:"placeholder" doc:"Whether the newest frame is the unavailable placeholder"`
}

// StatusData is the payload of GET /api/status.
type StatusData struct {
	Camera   capture.SupervisorStatus                    `json:"camera" doc:"Capture supervisor"`
	Counters map[string]metrics.SourceCounters `json:"counters" doc:"Per-source totals since start"`
	Stream   StreamStatus                      `json:"stream" doc:"Video fan-out"`
	Link     link.ChannelStatus                       `json:"link" doc:"Serial command link"`
}

type StatusResponse struct {
	Body StatusData
}

// SnapshotOutput is a single JPEG.
type SnapshotOutput struct {
	ContentType  string `header:"Content-Type"`
	CacheControl string `header:"Cache-Control"`
	FrameSeq     string `header:"X-Frame-Seq"`
	Body         []byte
}

type LinkStatusResponse struct {
	Body link.ChannelStatus
}

type LinkPortsResponse struct {
	Body struct {
		Ports []link.PortInfo `json:"ports" doc:"Serial ports found on the host"`
	}
}

// LEDRequest switches one LED role.
type LEDRequest struct {
	Body struct {
		Role    string  `json:"role" example:"status" doc:"LED role (status, link)"`
		Enabled bool    `json:"enabled" example:"true" doc:"Whether the LED should be on"`
		Pattern *string `json:"pattern,omitempty" example:"blink" doc:"Optional pattern (solid, blink)"`
	}
}

type LEDCapabilitiesResponse struct {
	Body struct {
		Roles    []string `json:"roles" doc:"LED roles this board supports"`
		Patterns []string `json:"patterns" doc:"Supported patterns"`
	}
}
