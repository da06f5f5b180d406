package commit

import "github.com/matt-g-everett/logger/pkg/ota"

// Request is the FSM input
type Request struct {
	SessionID string
	Partition ota.Partition
	Checksum  uint32
	Bytes     int64
}

// Response is the FSM output (accumulated across transitions)
type Response struct {
	Finalized bool
	Activated bool
	Status    string
}

// State names
const (
	StateFinalize = "finalize"
	StateActivate = "activate"
	StateComplete = "complete"
	StateFailed   = "failed"
)
