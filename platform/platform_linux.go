package platform

import (
	"bufio"
	"os"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/joyshmitz/sbh/model"
)

// pseudoFS lists filesystem types skipped during mount enumeration: not
// real block-backed filesystems. Mirrors the teacher's collector/filesystem.go
// pseudoFS table.
var pseudoFS = map[string]bool{
	"sysfs": true, "proc": true, "devtmpfs": true,
	"cgroup": true, "cgroup2": true, "debugfs": true, "tracefs": true,
	"securityfs": true, "hugetlbfs": true, "mqueue": true, "fusectl": true,
	"configfs": true, "pstore": true, "bpf": true,
	"rpc_pipefs": true, "nsfs": true, "autofs": true, "efivarfs": true,
	"squashfs": true, "iso9660": true, "devpts": true, "overlay": true,
}

// ramBackedFS lists filesystem types considered RAM-backed.
var ramBackedFS = map[string]bool{
	"tmpfs": true, "ramfs": true,
}

// Linux implements Platform using statfs(2), /proc/mounts, and fallocate(2).
type Linux struct{}

// New returns the Linux platform implementation.
func New() *Linux { return &Linux{} }

func (l *Linux) FsStats(path string) (model.FsStats, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return model.FsStats{}, &model.PlatformError{Path: path, Details: "statfs", Err: err}
	}
	bsize := uint64(st.Bsize)
	total := st.Blocks * bsize
	free := st.Bfree * bsize
	avail := st.Bavail * bsize
	fsType, _ := fsTypeOf(path)
	return model.FsStats{
		TotalBytes:     total,
		FreeBytes:      free,
		AvailableBytes: avail,
		FSType:         fsType,
		MountPoint:     path,
		IsReadonly:     st.Flags&unix.ST_RDONLY != 0,
	}, nil
}

// fsTypeOf looks up the filesystem type for path by matching /proc/mounts,
// since statfs(2) only exposes a numeric magic number.
func fsTypeOf(path string) (string, error) {
	mounts, err := parseProcMounts()
	if err != nil {
		return "", err
	}
	best := ""
	bestLen := -1
	for _, m := range mounts {
		if strings.HasPrefix(path, m.Path) && len(m.Path) > bestLen {
			best = m.FSType
			bestLen = len(m.Path)
		}
	}
	return best, nil
}

func (l *Linux) MountPoints() ([]model.MountPointInfo, error) {
	mounts, err := parseProcMounts()
	if err != nil {
		return nil, &model.PlatformError{Path: "/proc/mounts", Details: "read mounts", Err: err}
	}
	var out []model.MountPointInfo
	for _, m := range mounts {
		if pseudoFS[m.FSType] {
			continue
		}
		var st unix.Statfs_t
		if err := unix.Statfs(m.Path, &st); err != nil {
			continue
		}
		var stat unix.Stat_t
		if err := unix.Stat(m.Path, &stat); err != nil {
			continue
		}
		out = append(out, model.MountPointInfo{
			Path:         m.Path,
			Device:       m.Device,
			FSType:       m.FSType,
			IsRAMBacked:  ramBackedFS[m.FSType],
			DeviceID:     uint64(stat.Dev),
			FilesystemID: fsidToUint64(st.Fsid),
		})
	}
	return out, nil
}

func fsidToUint64(fsid unix.Fsid) uint64 {
	var v uint64
	for _, x := range fsid.Val {
		v = v<<32 | uint64(uint32(x))
	}
	return v
}

func (l *Linux) IsRAMBacked(path string) (bool, error) {
	fsType, err := fsTypeOf(path)
	if err != nil {
		return false, err
	}
	return ramBackedFS[fsType], nil
}

func (l *Linux) MemoryInfo() (model.MemoryInfo, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return model.MemoryInfo{}, &model.PlatformError{Path: "/proc/meminfo", Details: "open", Err: err}
	}
	defer f.Close()

	var total, avail uint64
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		key := strings.TrimSuffix(fields[0], ":")
		val, _ := strconv.ParseUint(fields[1], 10, 64)
		switch key {
		case "MemTotal":
			total = val * 1024
		case "MemAvailable":
			avail = val * 1024
		}
	}
	return model.MemoryInfo{TotalBytes: total, AvailableBytes: avail}, nil
}

func (l *Linux) Allocate(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return &model.ProvisioningFailedError{Path: path, Err: err}
	}
	defer f.Close()

	if err := unix.Fallocate(int(f.Fd()), 0, 0, size); err == nil {
		return nil
	}
	// Fallback: write zeros in bounded chunks. Ballast files must occupy
	// real space, so no sparse hole is used.
	const chunk = 4 << 20 // 4MiB
	buf := make([]byte, chunk)
	var written int64
	for written < size {
		n := int64(chunk)
		if size-written < n {
			n = size - written
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return &model.ProvisioningFailedError{Path: path, Err: err}
		}
		written += n
	}
	return f.Sync()
}

func (l *Linux) DeviceInode(path string) (uint64, uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, 0, &model.PlatformError{Path: path, Details: "lstat", Err: err}
	}
	return uint64(st.Dev), uint64(st.Ino), nil
}

type mountLine struct {
	Device string
	Path   string
	FSType string
}

func parseProcMounts() ([]mountLine, error) {
	f, err := os.Open("/proc/mounts")
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []mountLine
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, mountLine{Device: fields[0], Path: fields[1], FSType: fields[2]})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
