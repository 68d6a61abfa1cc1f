package models

import "time"

// Reason identifies which detector flagged an IP. The set is fixed; the
// finding store enforces at most one active finding per (ip, reason) pair.
type Reason string

const (
	ReasonHighVolume          Reason = "high_volume"
	ReasonHighRate            Reason = "high_rate"
	ReasonSensitivePathAccess Reason = "sensitive_path_access"
	ReasonPathDiversity       Reason = "path_diversity"
	ReasonGeoAnomaly          Reason = "geo_anomaly"
	ReasonBurstPattern        Reason = "burst_pattern"
)

// RequestEvent is the immutable record of one processed request.
// Country and City are empty for private/reserved IPs or when the
// geolocation provider was unavailable.
type RequestEvent struct {
	ID        int64     `json:"id,omitempty"`
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	Path      string    `json:"path"`
	Country   string    `json:"country,omitempty"`
	City      string    `json:"city,omitempty"`
}

// BlockedEntry is one row of the durable blocklist. An IP appears at most
// once; blocking an already-blocked IP is rejected by the store.
type BlockedEntry struct {
	IP        string    `json:"ip"`
	CreatedAt time.Time `json:"created_at"`
	Reason    string    `json:"reason,omitempty"`
}

// SuspicionFinding is a detector result persisted for operator review.
// Findings are deactivated, never deleted, when cleared or expired.
type SuspicionFinding struct {
	ID         string    `json:"id"`
	IP         string    `json:"ip"`
	Reason     Reason    `json:"reason"`
	DetectedAt time.Time `json:"detected_at"`
	IsActive   bool      `json:"is_active"`
}
