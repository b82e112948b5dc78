package updater

import (
	"context"
	"time"
)

// State is the update state machine position.
type State string

// Update states.
const (
	StateIdle        State = "idle"
	StateChecking    State = "checking"
	StateAvailable   State = "available"
	StateDownloading State = "downloading"
	StateApplying    State = "applying"
	StateRestarting  State = "restarting"
	StateError       State = "error"
	StateRolledBack  State = "rolled_back"
)

// Service checks for and installs new rovercam releases.
type Service interface {
	CheckForUpdate(ctx context.Context) (*UpdateInfo, error)

	// ApplyUpdate backs up the running binary, replaces it and schedules a restart.
	ApplyUpdate(ctx context.Context) error

	// Rollback restores the backed up binary and schedules a restart.
	Rollback(ctx context.Context) error

	Restart(ctx context.Context) error
	GetStatus(ctx context.Context) *Status

	// IsEnabled is false when the binary directory is not writable.
	IsEnabled() bool
	DisabledReason() string
}

// UpdateInfo describes the newest release relative to the running version.
type UpdateInfo struct {
	CurrentVersion  string    `json:"current_version"`
	LatestVersion   string    `json:"latest_version"`
	ReleaseNotes    string    `json:"release_notes"`
	ReleaseURL      string    `json:"release_url"`
	PublishedAt     time.Time `json:"published_at"`
	AssetSize       int       `json:"asset_size"`
	UpdateAvailable bool      `json:"update_available"`
}

// Status is a snapshot of the updater.
type Status struct {
	State           State      `json:"state"`
	CurrentVersion  string     `json:"current_version"`
	TargetVersion   string     `json:"target_version,omitempty"`
	Error           string     `json:"error,omitempty"`
	LastChecked     *time.Time `json:"last_checked,omitempty"`
	BackupAvailable bool       `json:"backup_available"`
	BackupVersion   string     `json:"backup_version,omitempty"`
}

// Options configures NewService.
type Options struct {
	Repository string // GitHub slug, owner/name
	Prerelease bool

	// BackupDir defaults to ~/.cache/rovercam/backup.
	BackupDir string

	// Restart is called after a binary swap. The default sends SIGTERM to
	// this process so systemd starts the new binary. The CLI passes a no-op.
	Restart func()
}

// DefaultRepository is where release binaries are published.
const DefaultRepository = "smazurov/rovercam"
