package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Resource identifies a wearable data collection exposed by the provider.
type Resource string

const (
	ResourceSleep    Resource = "sleep"
	ResourceRecovery Resource = "recovery"
	ResourceWorkout  Resource = "workout"
	ResourceCycle    Resource = "cycle"
)

// AllResources lists every collection the sync collector pulls.
var AllResources = []Resource{ResourceSleep, ResourceRecovery, ResourceWorkout, ResourceCycle}

// Valid reports whether the resource is one the provider serves.
func (r Resource) Valid() bool {
	switch r {
	case ResourceSleep, ResourceRecovery, ResourceWorkout, ResourceCycle:
		return true
	}
	return false
}

// Path returns the provider API path for the resource collection.
func (r Resource) Path() string {
	return fmt.Sprintf("/v1/%s", string(r))
}

// DateRange bounds a crawl. End is exclusive.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks the range is well formed and non-inverted.
func (d DateRange) Validate() error {
	if d.Start.IsZero() || d.End.IsZero() {
		return fmt.Errorf("date range requires both start and end")
	}
	if !d.End.After(d.Start) {
		return fmt.Errorf("date range end %s is not after start %s", d.End.Format(time.RFC3339), d.Start.Format(time.RFC3339))
	}
	return nil
}

// RawRecord is one provider payload, forwarded unparsed. Domain parsing and
// persistence belong to the caller, not this service.
type RawRecord = json.RawMessage
