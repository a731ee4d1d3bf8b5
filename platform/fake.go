package platform

import (
	"sync"

	"github.com/joyshmitz/sbh/model"
)

// Fake is an in-memory Platform implementation for tests. It is the seam
// every other component exercises instead of the real OS (spec.md §9).
type Fake struct {
	mu sync.Mutex

	Mounts    []model.MountPointInfo
	Stats     map[string]model.FsStats // keyed by mount path
	RAMBacked map[string]bool
	Memory    model.MemoryInfo

	AllocateErr error
	Allocated   map[string]int64

	DevIno map[string][2]uint64 // path -> (dev, ino)
}

// NewFake returns an empty fake platform.
func NewFake() *Fake {
	return &Fake{
		Stats:     make(map[string]model.FsStats),
		RAMBacked: make(map[string]bool),
		Allocated: make(map[string]int64),
		DevIno:    make(map[string][2]uint64),
	}
}

func (f *Fake) FsStats(path string) (model.FsStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.Stats[path]; ok {
		return s, nil
	}
	// Longest-prefix match against configured mounts.
	best := ""
	var bestStats model.FsStats
	found := false
	for mount, s := range f.Stats {
		if len(mount) > len(best) && hasPrefix(path, mount) {
			best = mount
			bestStats = s
			found = true
		}
	}
	if found {
		return bestStats, nil
	}
	return model.FsStats{}, &model.FsStatsError{Path: path, Details: "no known mount"}
}

func hasPrefix(path, prefix string) bool {
	if len(path) < len(prefix) {
		return false
	}
	return path[:len(prefix)] == prefix
}

func (f *Fake) MountPoints() ([]model.MountPointInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.MountPointInfo, len(f.Mounts))
	copy(out, f.Mounts)
	return out, nil
}

func (f *Fake) IsRAMBacked(path string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.RAMBacked[path], nil
}

func (f *Fake) MemoryInfo() (model.MemoryInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Memory, nil
}

func (f *Fake) Allocate(path string, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AllocateErr != nil {
		return f.AllocateErr
	}
	f.Allocated[path] = size
	return nil
}

func (f *Fake) DeviceInode(path string) (uint64, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if di, ok := f.DevIno[path]; ok {
		return di[0], di[1], nil
	}
	return 1, 0, nil
}

// SetMount registers a mount with its stats in one call.
func (f *Fake) SetMount(stats model.FsStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stats[stats.MountPoint] = stats
}
