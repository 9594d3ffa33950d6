package identity

// #region id
// IDLength is the number of hex characters in an AEQ or CID.
const IDLength = 12

// ID is a content-addressed identifier: the first IDLength hex characters
// of a SHA-256 digest.
type ID string

// #endregion id

// #region payload
// Payload is the identity-bearing content of a preregistration. AEQ and CID
// are derived from it and from nothing else.
type Payload struct {
	DeltaMin    *float64
	ControlMax  *float64
	BaselineMin *float64
	Seed        *int64
	Mode        string
	Metric      string
	Conditions  []string
	Notes       string
	Metadata    map[string]string
}

// canonicalPayload is the serialized form. The seed is carried as a decimal
// string so int64 seeds survive JCS number normalization.
type canonicalPayload struct {
	Thresholds canonicalThresholds `json:"thresholds"`
	Seed       string              `json:"seed"`
	Mode       string              `json:"mode"`
	Metric     string              `json:"metric"`
	Conditions []string            `json:"conditions"`
	Notes      string              `json:"notes,omitempty"`
	Metadata   map[string]string   `json:"metadata,omitempty"`
}

type canonicalThresholds struct {
	DeltaMin    float64  `json:"delta_min"`
	ControlMax  float64  `json:"control_max"`
	BaselineMin *float64 `json:"baseline_min,omitempty"`
}

// #endregion payload
