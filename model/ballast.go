package model

// BallastState is the lifecycle state of one ballast file.
type BallastState int

const (
	BallastAvailable BallastState = iota
	BallastReleased
)

func (s BallastState) String() string {
	if s == BallastReleased {
		return "Released"
	}
	return "Available"
}

// BallastFile is owned by the ballast manager and persisted via the
// inventory file.
type BallastFile struct {
	Path      string       `json:"path"`
	SizeBytes uint64       `json:"size_bytes"`
	State     BallastState `json:"state"`
}

// MarshalJSON renders State as its string form so the inventory file is
// human-readable; UnmarshalJSON accepts both the string and legacy
// integer forms.
func (s BallastState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *BallastState) UnmarshalJSON(b []byte) error {
	str := string(b)
	switch str {
	case `"Released"`, `1`:
		*s = BallastReleased
	case `"Available"`, `0`:
		*s = BallastAvailable
	default:
		*s = BallastAvailable
	}
	return nil
}

// ReleasedFile is returned by BallastManager.Release, describing one
// file that transitioned from Available to Released.
type ReleasedFile struct {
	Path      string
	SizeBytes uint64
}
