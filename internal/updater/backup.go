// Package updater replaces the running rovercam binary with a newer GitHub
// release and keeps one backup for rollback.
package updater

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/creativeprojects/go-selfupdate"
	"github.com/smazurov/rovercam/internal/version"
)

const (
	backupFilename     = "rovercam.backup"
	backupInfoFilename = "backup.json"
)

var errNoBackup = errors.New("no backup available")

type backupInfo struct {
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	ExecPath  string    `json:"exec_path"`
}

type backupManager struct {
	dir      string
	execPath func() (string, error)
	logger   *slog.Logger

	mu   sync.RWMutex
	info *backupInfo
}

func defaultBackupDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home directory: %w", err)
	}
	return filepath.Join(home, ".cache", "rovercam", "backup"), nil
}

func newBackupManager(dir string, logger *slog.Logger) (*backupManager, error) {
	if dir == "" {
		d, err := defaultBackupDir()
		if err != nil {
			return nil, err
		}
		dir = d
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create backup directory: %w", err)
	}

	m := &backupManager{
		dir:      dir,
		execPath: selfupdate.ExecutablePath,
		logger:   logger,
	}
	m.load()
	return m, nil
}

func (m *backupManager) binaryPath() string { return filepath.Join(m.dir, backupFilename) }
func (m *backupManager) infoPath() string   { return filepath.Join(m.dir, backupInfoFilename) }

// load picks up a backup left by a previous run.
func (m *backupManager) load() {
	data, err := os.ReadFile(m.infoPath())
	if err != nil {
		return
	}

	var info backupInfo
	if err := json.Unmarshal(data, &info); err != nil {
		m.logger.Warn("Failed to parse backup info", "error", err)
		return
	}
	if _, err := os.Stat(m.binaryPath()); err != nil {
		m.logger.Warn("Backup file missing", "path", m.binaryPath())
		return
	}

	m.mu.Lock()
	m.info = &info
	m.mu.Unlock()
	m.logger.Info("Loaded backup info", "version", info.Version)
}

func (m *backupManager) create() error {
	execPath, err := m.execPath()
	if err != nil {
		return fmt.Errorf("executable path: %w", err)
	}
	if err := copyFile(execPath, m.binaryPath()); err != nil {
		return fmt.Errorf("copy executable: %w", err)
	}

	info := backupInfo{
		Version:   version.Version,
		CreatedAt: time.Now(),
		ExecPath:  execPath,
	}
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("marshal backup info: %w", err)
	}
	if err := os.WriteFile(m.infoPath(), data, 0o644); err != nil {
		return fmt.Errorf("write backup info: %w", err)
	}

	m.mu.Lock()
	m.info = &info
	m.mu.Unlock()
	m.logger.Info("Backup created", "version", info.Version, "path", m.binaryPath())
	return nil
}

func (m *backupManager) restore() error {
	m.mu.RLock()
	info := m.info
	m.mu.RUnlock()
	if info == nil {
		return errNoBackup
	}

	if err := copyFile(m.binaryPath(), info.ExecPath); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}
	m.logger.Info("Backup restored", "version", info.Version)
	return nil
}

func (m *backupManager) hasBackup() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.info != nil
}

func (m *backupManager) backupVersion() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.info == nil {
		return ""
	}
	return m.info.Version
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
