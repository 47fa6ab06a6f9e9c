package vault

import "fmt"

// State is the lifecycle state of a vault.
type State int

const (
	// Uninitialized means no vault metadata has been seen yet.
	Uninitialized State = iota
	// Locked means the vault exists and no data key is held in memory.
	Locked
	// Unlocked means the data key is in memory and storage is open.
	Unlocked
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Locked:
		return "locked"
	case Unlocked:
		return "unlocked"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	switch s {
	case Uninitialized, Locked, Unlocked:
		return []byte(s.String()), nil
	default:
		return nil, fmt.Errorf("unknown vault state %d", int(s))
	}
}

// Status is a snapshot of the vault lifecycle.
type Status struct {
	State         State  `json:"state"`
	IsInitialized bool   `json:"is_initialized"`
	CreatedAt     *int64 `json:"created_at,omitempty"`
	Version       *int   `json:"version,omitempty"`
}
