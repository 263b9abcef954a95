package ipc

// StatusRequest fetches daemon status.
type StatusRequest struct{}

// StageStatus describes one pipeline stage.
type StageStatus struct {
	Name       string `json:"name"`
	Workers    int    `json:"workers"`
	Queued     int    `json:"queued"`
	Active     int    `json:"active"`
	PeakActive int    `json:"peak_active"`
	Completed  int64  `json:"completed"`
	Failed     int64  `json:"failed"`
	Draining   bool   `json:"draining"`
	Ready      bool   `json:"ready"`
	Detail     string `json:"detail,omitempty"`
}

// StatusResponse represents combined daemon and pipeline status.
type StatusResponse struct {
	Running     bool          `json:"running"`
	PID         int           `json:"pid"`
	LockPath    string        `json:"lock_path"`
	LedgerPath  string        `json:"ledger_path"`
	SourceDir   string        `json:"source_dir"`
	InFlight    int           `json:"in_flight"`
	MaxInFlight int           `json:"max_in_flight"`
	Stages      []StageStatus `json:"stages"`
}

// SubmitRequest hands files to the daemon.
type SubmitRequest struct {
	Paths []string `json:"paths"`
}

// Rejection explains why a submitted path was not accepted.
type Rejection struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// SubmitResponse lists accepted and rejected paths.
type SubmitResponse struct {
	Accepted []string    `json:"accepted"`
	Rejected []Rejection `json:"rejected"`
}

// StopRequest asks the daemon to drain and exit.
type StopRequest struct{}

// StopResponse indicates whether a stop was initiated.
type StopResponse struct {
	Stopping bool `json:"stopping"`
}
