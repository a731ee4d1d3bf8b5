// Package protect holds the set of filesystem prefixes the walker and
// scorer must never enter or delete under. Path resolution is
// canonicalized against the real filesystem wherever the result gates a
// deletion; syntactic normalization is used only for best-effort checks
// and logging (spec.md §4.F design note).
package protect

import (
	"path/filepath"
	"strings"

	"github.com/joyshmitz/sbh/model"
)

// Registry holds canonicalized forbidden prefixes.
type Registry struct {
	forbidden []string
}

// NewRegistry canonicalizes each given prefix (system dirs, home roots,
// configured exclusions) at construction time.
func NewRegistry(prefixes []string) *Registry {
	out := make([]string, 0, len(prefixes))
	for _, p := range prefixes {
		out = append(out, canonicalizeBestEffort(p))
	}
	return &Registry{forbidden: out}
}

// canonicalizeBestEffort resolves path against the real filesystem,
// falling back to syntactic cleaning when resolution fails (the path
// doesn't exist, a component isn't a directory, etc). Safe to use for
// logging and for walker pruning, where a false negative only costs a
// descent that protection would otherwise have caught one level down —
// never for gating a deletion.
func canonicalizeBestEffort(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return filepath.Clean(resolved)
	}
	return filepath.Clean(abs)
}

// canonicalizeStrict resolves path against the real filesystem and
// fails rather than falling back to syntactic cleaning. Required before
// any deletion-gating decision.
func canonicalizeStrict(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &model.PathResolutionError{Path: path, Err: err}
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", &model.PathResolutionError{Path: path, Err: err}
	}
	return filepath.Clean(resolved), nil
}

func underAny(candidate string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if candidate == prefix {
			return true
		}
		if strings.HasPrefix(candidate, strings.TrimSuffix(prefix, string(filepath.Separator))+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// IsProtected reports whether path is equal to or under any forbidden
// prefix, using best-effort canonicalization. Suitable for walker
// pruning and logging; not sufficient on its own to gate a deletion.
func (r *Registry) IsProtected(path string) bool {
	return underAny(canonicalizeBestEffort(path), r.forbidden)
}

// IsProtectedForDeletion canonicalizes path strictly against the real
// filesystem before checking protection. Returns an error (rather than
// falling back to syntactic normalization) when the path cannot be
// resolved, since an unresolvable path must never be deleted.
func (r *Registry) IsProtectedForDeletion(path string) (bool, error) {
	canon, err := canonicalizeStrict(path)
	if err != nil {
		return true, err // fail closed: treat as protected
	}
	return underAny(canon, r.forbidden), nil
}
