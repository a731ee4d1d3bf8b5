// Package statcache wraps the platform layer with a bounded, mount-
// deduplicating cache, per spec.md §4.B.
package statcache

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/joyshmitz/sbh/model"
	"github.com/joyshmitz/sbh/platform"
)

// entry is one cached stat, keyed by volume (not by path).
type entry struct {
	stats     model.FsStats
	fetchedAt time.Time
}

// Collector is a bounded cache over the platform's filesystem stats,
// deduplicating distinct paths that resolve to the same underlying
// volume (see SPEC_FULL.md supplemented feature #1: bind-mount dedup).
type Collector struct {
	plat platform.Platform
	ttl  time.Duration

	mu            sync.RWMutex
	mounts        []model.MountPointInfo
	mountsFetched time.Time
	mountsTTL     time.Duration
	cache         map[string]entry // keyed by volumeKey
}

// New creates a Collector backed by plat, caching stats for ttl and
// refreshing the mount table at most every mountsTTL.
func New(plat platform.Platform, ttl, mountsTTL time.Duration) *Collector {
	return &Collector{
		plat:      plat,
		ttl:       ttl,
		mountsTTL: mountsTTL,
		cache:     make(map[string]entry),
	}
}

// volumeKey identifies the underlying volume a mount belongs to, so bind
// mounts sharing a device+filesystem collapse to one cache entry.
func volumeKey(m model.MountPointInfo) string {
	if m.DeviceID != 0 || m.FilesystemID != 0 {
		return fmt.Sprintf("vol:%d:%d", m.DeviceID, m.FilesystemID)
	}
	return "path:" + m.Path
}

func (c *Collector) refreshMountsLocked() error {
	if time.Since(c.mountsFetched) < c.mountsTTL && c.mounts != nil {
		return nil
	}
	mounts, err := c.plat.MountPoints()
	if err != nil {
		return err
	}
	c.mounts = mounts
	c.mountsFetched = time.Now()
	return nil
}

// resolveMount finds the mount with the longest path prefix matching path.
func (c *Collector) resolveMount(path string) (model.MountPointInfo, bool) {
	var best model.MountPointInfo
	bestLen := -1
	found := false
	for _, m := range c.mounts {
		if m.Path == path || strings.HasPrefix(path, strings.TrimSuffix(m.Path, "/")+"/") || path == strings.TrimSuffix(m.Path, "/") {
			if len(m.Path) > bestLen {
				best = m
				bestLen = len(m.Path)
				found = true
			}
		}
	}
	return best, found
}

// Collect resolves path's mount (refreshing the mount table if stale),
// serves from cache within TTL, else queries the platform and populates.
func (c *Collector) Collect(path string) (model.FsStats, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.refreshMountsLocked(); err != nil {
		return model.FsStats{}, &model.PlatformError{Path: path, Details: "refresh mounts", Err: err}
	}
	mount, ok := c.resolveMount(path)
	if !ok {
		return model.FsStats{}, &model.FsStatsError{Path: path, Details: "no known mount"}
	}
	key := volumeKey(mount)
	if e, ok := c.cache[key]; ok && time.Since(e.fetchedAt) < c.ttl {
		return e.stats, nil
	}
	stats, err := c.plat.FsStats(mount.Path)
	if err != nil {
		return model.FsStats{}, err
	}
	c.cache[key] = entry{stats: stats, fetchedAt: time.Now()}
	return stats, nil
}

// CollectMany deduplicates paths to distinct volumes, queries each once,
// and fans the result back out into a map keyed by input path.
func (c *Collector) CollectMany(paths []string) (map[string]model.FsStats, []error) {
	results := make(map[string]model.FsStats, len(paths))
	var errs []error
	// volumeKey -> representative stats, fetched at most once per call.
	fetched := make(map[string]model.FsStats)
	for _, p := range paths {
		c.mu.Lock()
		if err := c.refreshMountsLocked(); err != nil {
			c.mu.Unlock()
			errs = append(errs, &model.PlatformError{Path: p, Details: "refresh mounts", Err: err})
			continue
		}
		mount, ok := c.resolveMount(p)
		c.mu.Unlock()
		if !ok {
			errs = append(errs, &model.FsStatsError{Path: p, Details: "no known mount"})
			continue
		}
		key := volumeKey(mount)
		if s, ok := fetched[key]; ok {
			results[p] = s
			continue
		}
		s, err := c.Collect(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fetched[key] = s
		results[p] = s
	}
	return results, errs
}

// PruneExpiredCache drops entries older than the configured TTL.
func (c *Collector) PruneExpiredCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()
	for k, e := range c.cache {
		if now.Sub(e.fetchedAt) >= c.ttl {
			delete(c.cache, k)
		}
	}
}

// Mounts returns the last-enumerated mount set, refreshing if stale.
func (c *Collector) Mounts() ([]model.MountPointInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.refreshMountsLocked(); err != nil {
		return nil, err
	}
	out := make([]model.MountPointInfo, len(c.mounts))
	copy(out, c.mounts)
	return out, nil
}
