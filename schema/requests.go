package schema

// Rotation lifecycle.

// StartRequest describes a request to start rotating a tab.
type StartRequest struct {
	TabID   TabID
	URLs    []string
	MinTime int
	MaxTime int
}

// GetStateResponse reports the tab's rotation state merged with the saved URL list.
type GetStateResponse struct {
	IsRotating       bool     `json:"isRotating"`
	URLs             []string `json:"urls"`
	MinTime          int      `json:"minTime"`
	MaxTime          int      `json:"maxTime"`
	RotationCount    int      `json:"rotationCount"`
	LastURL          string   `json:"lastUrl,omitempty"`
	LastRotationTime string   `json:"lastRotationTime,omitempty"`
	NextRotationTime string   `json:"nextRotationTime,omitempty"`
	SavedURLs        []string `json:"savedUrls"`
}

// Ack acknowledges a command.
type Ack struct {
	Success bool `json:"success"`
}

// Maintenance.

// RestoreResult summarizes a restore-on-startup pass.
type RestoreResult struct {
	Restored int `json:"restored"`
	Removed  int `json:"removed"`
}

// SweepResult summarizes a maintenance sweep.
type SweepResult struct {
	SessionsRemoved int `json:"sessionsRemoved"`
	URLStatsRemoved int `json:"urlStatsRemoved"`
	StatesRemoved   int `json:"statesRemoved"`
}
