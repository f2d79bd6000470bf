package sharedstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Worker statuses published in the snapshot.
const (
	StatusRunning          = "RUNNING"
	StatusKillSwitchActive = "KILL_SWITCH_ACTIVE"
	StatusBoot             = "BOOT"
)

// Snapshot is the derived, disposable state the coordinator publishes for
// the gate. It is never authoritative; losing it costs one loop iteration.
type Snapshot struct {
	Mode          string    `json:"mode"`
	WorkerStatus  string    `json:"worker_status"`
	OpenPositions int       `json:"open_positions"`
	DailyDrawdown float64   `json:"daily_drawdown"`
	LastSignalID  string    `json:"last_signal_id,omitempty"`
	UpdatedAtUTC  time.Time `json:"updated_at_utc"`
}

// Bootstrap is the conservative default used when no snapshot can be read:
// not running, zero exposure.
func Bootstrap(mode string) Snapshot {
	return Snapshot{
		Mode:          mode,
		WorkerStatus:  StatusBoot,
		OpenPositions: 0,
		DailyDrawdown: 0,
		UpdatedAtUTC:  time.Now().UTC(),
	}
}

// Channel reads and writes the snapshot file.
type Channel struct {
	path string
}

// New constructs a channel over path.
func New(path string) *Channel {
	return &Channel{path: path}
}

// Write publishes the snapshot via temp-file-and-rename so a concurrent
// reader never observes a partial write.
func (c *Channel) Write(snap Snapshot) error {
	if snap.UpdatedAtUTC.IsZero() {
		snap.UpdatedAtUTC = time.Now().UTC()
	}

	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return fmt.Errorf("create shared state dir: %w", err)
	}

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode shared state: %w", err)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("write shared state temp: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace shared state: %w", err)
	}
	return nil
}

// Read returns the current snapshot. A missing, empty, or corrupt file is
// not an error: the bootstrap default is returned with ok=false so the
// reader can decide to persist it.
func (c *Channel) Read(mode string) (Snapshot, bool) {
	payload, err := os.ReadFile(c.path)
	if err != nil {
		// absent or unreadable both degrade to the bootstrap default
		return Bootstrap(mode), false
	}

	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return Bootstrap(mode), false
	}
	if snap.WorkerStatus == "" {
		return Bootstrap(mode), false
	}
	return snap, true
}
