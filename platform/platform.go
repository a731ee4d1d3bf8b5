// Package platform abstracts the OS-specific calls the core depends on:
// filesystem stats, mount enumeration, and memory info. It is the single
// seam every other component takes as an injected capability — no
// component anywhere else hard-codes an OS-specific call (spec.md §9).
package platform

import "github.com/joyshmitz/sbh/model"

// Platform is implemented once per OS backend. Implementations must be
// safe for concurrent use from any goroutine.
type Platform interface {
	// FsStats queries the filesystem containing path.
	FsStats(path string) (model.FsStats, error)
	// MountPoints enumerates all currently mounted filesystems.
	MountPoints() ([]model.MountPointInfo, error)
	// IsRAMBacked reports whether path lives on a RAM-backed filesystem
	// (tmpfs, ramfs) where ballast/artifact semantics don't apply.
	IsRAMBacked(path string) (bool, error)
	// MemoryInfo reports host memory.
	MemoryInfo() (model.MemoryInfo, error)
	// Allocate pre-allocates size bytes at path using the fastest
	// mechanism the platform provides (fallocate, SetEndOfFile, or a
	// write-zeros fallback).
	Allocate(path string, size int64) error
	// DeviceInode returns the (device, inode) pair for path, used by the
	// walker for symlink-cycle and cross-device detection.
	DeviceInode(path string) (dev uint64, ino uint64, err error)
}
