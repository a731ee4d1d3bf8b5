package model

import "fmt"

// PlatformError reports a failure from the platform abstraction layer:
// an unsupported path, a syscall error, or a timed-out blocking call.
type PlatformError struct {
	Path    string
	Details string
	Err     error
}

func (e *PlatformError) Error() string {
	return fmt.Sprintf("platform: %s: %s", e.Path, e.Details)
}

func (e *PlatformError) Unwrap() error { return e.Err }

// FsStatsError reports that a path belongs to no known mount, or that
// the stat cache failed to resolve it.
type FsStatsError struct {
	Path    string
	Details string
}

func (e *FsStatsError) Error() string {
	return fmt.Sprintf("fsstats: %s: %s", e.Path, e.Details)
}

// InventoryCorruptError reports a ballast inventory file that could not
// be trusted and was quarantined.
type InventoryCorruptError struct {
	Path    string
	Details string
}

func (e *InventoryCorruptError) Error() string {
	return fmt.Sprintf("inventory corrupt: %s: %s", e.Path, e.Details)
}

// ProvisioningFailedError reports a ballast file that could not be
// allocated on disk.
type ProvisioningFailedError struct {
	Path string
	Err  error
}

func (e *ProvisioningFailedError) Error() string {
	return fmt.Sprintf("provisioning failed: %s: %v", e.Path, e.Err)
}

func (e *ProvisioningFailedError) Unwrap() error { return e.Err }

// SerializationFailureError reports a failed write of the state file,
// decision log, or transition log.
type SerializationFailureError struct {
	Path string
	Err  error
}

func (e *SerializationFailureError) Error() string {
	return fmt.Sprintf("serialization failure: %s: %v", e.Path, e.Err)
}

func (e *SerializationFailureError) Unwrap() error { return e.Err }

// ProtectionViolationError reports an attempt to traverse or delete a
// protected path.
type ProtectionViolationError struct {
	Path string
}

func (e *ProtectionViolationError) Error() string {
	return fmt.Sprintf("protection violation: %s is protected", e.Path)
}

// PathResolutionError reports a path that could not be canonicalized
// against the real filesystem.
type PathResolutionError struct {
	Path string
	Err  error
}

func (e *PathResolutionError) Error() string {
	return fmt.Sprintf("path resolution: %s: %v", e.Path, e.Err)
}

func (e *PathResolutionError) Unwrap() error { return e.Err }
