// Package ballast manages a pool of pre-allocated filler files on a
// mount, releasable under pressure to free space quickly without
// waiting on a directory scan. Grounded on the teacher's
// engine/daemon.go pidfile/state-file persistence style, generalized
// to a reconciled, crash-safe file inventory.
package ballast

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/platform"
	"github.com/joyshmitz/sbh/util"
)

// Config describes one mount's ballast pool.
type Config struct {
	Dir               string
	FileCount         int
	FileSizeBytes     int64
	ReplenishCooldown time.Duration
}

// DefaultConfig mirrors the ballast sizing used in spec.md's release
// controller walkthroughs.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		FileCount:         8,
		FileSizeBytes:     256 << 20, // 256MiB
		ReplenishCooldown: 10 * time.Minute,
	}
}

// inventoryDoc is the on-disk shape of the inventory file.
type inventoryDoc struct {
	Files []model.BallastFile `json:"files"`
}

// Manager owns the ballast pool for one mount.
type Manager struct {
	cfg  Config
	plat platform.Platform

	mu           sync.Mutex
	files        []model.BallastFile
	lastReplenish time.Time
}

// New constructs a Manager. Call Reconcile before using it.
func New(cfg Config, plat platform.Platform) *Manager {
	return &Manager{cfg: cfg, plat: plat}
}

func (m *Manager) inventoryPath() string {
	return filepath.Join(m.cfg.Dir, "inventory.json")
}

// Reconcile reads the inventory file (if any) and cross-checks it
// against the files actually present on disk: a recorded file missing
// from disk, or whose size on disk doesn't match its recorded
// size_bytes, is kept in the inventory but marked Released so replenish
// re-allocates it (SPEC_FULL.md supplemented feature: ballast checksum
// guard). Files present on disk but absent from the inventory are
// adopted as Available.
func (m *Manager) Reconcile() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.cfg.Dir, 0o700); err != nil {
		return fmt.Errorf("create ballast dir: %w", err)
	}

	recorded := m.loadInventoryLocked()
	onDisk := map[string]int64{}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		return fmt.Errorf("read ballast dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".ballast" {
			continue
		}
		path := filepath.Join(m.cfg.Dir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		onDisk[path] = info.Size()
	}

	var reconciled []model.BallastFile
	seen := map[string]bool{}
	for _, f := range recorded {
		size, present := onDisk[f.Path]
		switch {
		case !present:
			// Missing from disk: the recorded state is stale regardless of
			// what it claimed; track it as Released so replenish recreates it.
			f.State = model.BallastReleased
		case size != int64(f.SizeBytes):
			// Present but corrupt (size mismatch): same treatment as missing.
			f.State = model.BallastReleased
		}
		reconciled = append(reconciled, f)
		seen[f.Path] = true
	}
	for path, size := range onDisk {
		if seen[path] {
			continue
		}
		reconciled = append(reconciled, model.BallastFile{Path: path, SizeBytes: uint64(size), State: model.BallastAvailable})
	}

	m.files = reconciled
	return m.persistLocked()
}

func (m *Manager) loadInventoryLocked() []model.BallastFile {
	data, err := os.ReadFile(m.inventoryPath())
	if err != nil {
		return nil
	}
	var doc inventoryDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil
	}
	return doc.Files
}

func (m *Manager) persistLocked() error {
	doc := inventoryDoc{Files: m.files}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal inventory: %w", err)
	}
	return util.WriteFileAtomic(m.inventoryPath(), data, 0o600)
}

// Provision creates files up to FileCount, allocating FileSizeBytes
// each via the platform's fastest mechanism.
func (m *Manager) Provision() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replenishLocked(time.Time{}, true)
}

// Replenish recreates files up to FileCount, subject to
// ReplenishCooldown since the last replenish that re-allocated files
// (skipped silently within the cooldown window, not an error).
func (m *Manager) Replenish(now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.lastReplenish.IsZero() && now.Sub(m.lastReplenish) < m.cfg.ReplenishCooldown {
		return nil
	}
	return m.replenishLocked(now, false)
}

// replenishLocked brings available_count back up to FileCount by
// re-allocating Released entries in place first, only appending brand
// new files once the Released supply is exhausted. This keeps
// total_count bounded at FileCount across repeated release/replenish
// cycles (testable property #9: provision -> release(k) -> replenish
// -> available_count = total_count) instead of growing it unboundedly.
func (m *Manager) replenishLocked(now time.Time, initial bool) error {
	available := 0
	for _, f := range m.files {
		if f.State == model.BallastAvailable {
			available++
		}
	}
	need := m.cfg.FileCount - available
	if need <= 0 {
		return nil
	}

	for i := range m.files {
		if need <= 0 {
			break
		}
		if m.files[i].State != model.BallastReleased {
			continue
		}
		if err := m.plat.Allocate(m.files[i].Path, m.cfg.FileSizeBytes); err != nil {
			return fmt.Errorf("reallocate ballast file %s: %w", m.files[i].Path, err)
		}
		m.files[i].SizeBytes = uint64(m.cfg.FileSizeBytes)
		m.files[i].State = model.BallastAvailable
		need--
	}

	for i := 0; i < need; i++ {
		name := uuid.New().String() + ".ballast"
		path := filepath.Join(m.cfg.Dir, name)
		if err := m.plat.Allocate(path, m.cfg.FileSizeBytes); err != nil {
			return fmt.Errorf("allocate ballast file %s: %w", path, err)
		}
		m.files = append(m.files, model.BallastFile{Path: path, SizeBytes: uint64(m.cfg.FileSizeBytes), State: model.BallastAvailable})
	}
	if !initial {
		m.lastReplenish = now
	}
	return m.persistLocked()
}

// Release pops up to n Available files to Released, returning the
// freed bytes. It never deletes the underlying file directly (that is
// the point of ballast: the path stays in the inventory for replenish
// to re-allocate) — it truncates the file to zero length, returning the
// allocated blocks.
func (m *Manager) Release(n int) ([]model.ReleasedFile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []model.ReleasedFile
	for i := range m.files {
		if len(released) >= n {
			break
		}
		if m.files[i].State != model.BallastAvailable {
			continue
		}
		if err := os.Truncate(m.files[i].Path, 0); err != nil {
			return released, fmt.Errorf("truncate ballast file %s: %w", m.files[i].Path, err)
		}
		released = append(released, model.ReleasedFile{Path: m.files[i].Path, SizeBytes: m.files[i].SizeBytes})
		m.files[i].State = model.BallastReleased
	}
	if len(released) > 0 {
		if err := m.persistLocked(); err != nil {
			return released, err
		}
	}
	return released, nil
}

// AvailableCount returns the number of files currently Available.
func (m *Manager) AvailableCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.files {
		if f.State == model.BallastAvailable {
			n++
		}
	}
	return n
}

// TotalCount returns the number of ballast files currently tracked in
// the inventory (Available + Released) — the denominator the release
// controller uses to compute how much of the pool is already depleted.
func (m *Manager) TotalCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.files)
}

// ReleasedCount returns the number of files currently Released. Exposed
// for the self-monitor's ballast snapshot; the release controller
// itself only ever needs Available/Total.
func (m *Manager) ReleasedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, f := range m.files {
		if f.State == model.BallastReleased {
			n++
		}
	}
	return n
}
