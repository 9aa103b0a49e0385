package agent

import "glass-server-go/internal/domain/photo"

// State is an immutable snapshot of the pipeline. Empty strings mean the
// field has not been set yet.
type State struct {
	LastDescription string `json:"last_description,omitempty"`
	Answer          string `json:"answer,omitempty"`
	Loading         bool   `json:"loading"`
	Photos          int    `json:"photos"`
	Version         uint64 `json:"version"`
}

// Busy reports whether an answer is being prepared.
func (s State) Busy() bool {
	return s.Loading
}

// Interpretation pairs a photo with its description.
type Interpretation struct {
	Photo       photo.Photo `json:"photo"`
	Description string      `json:"description"`
}
