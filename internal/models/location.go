package models

import (
	"math"
	"time"

	"github.com/google/uuid"
)

// Accuracy tiers
const (
	AccuracyHigh   = "high"
	AccuracyMedium = "medium"
	AccuracyLow    = "low"
)

// Location sources
const (
	SourceGPS   = "GPS"
	SourceWiFi  = "Wi-Fi"
	SourceIP    = "IP"
	SourceOther = "other"
)

// Liveness statuses
const (
	StatusOnline  = "online"
	StatusIdle    = "idle"
	StatusOffline = "offline"
)

const (
	highAccuracyMeters   = 100.0
	mediumAccuracyMeters = 500.0
)

// ClassifyAccuracy maps a raw horizontal accuracy radius in meters to a tier.
// A missing or non-finite radius is treated as low.
func ClassifyAccuracy(meters *float64) string {
	if meters == nil || math.IsNaN(*meters) || math.IsInf(*meters, 0) {
		return AccuracyLow
	}
	switch {
	case *meters < highAccuracyMeters:
		return AccuracyHigh
	case *meters < mediumAccuracyMeters:
		return AccuracyMedium
	default:
		return AccuracyLow
	}
}

func IsValidAccuracy(tier string) bool {
	return tier == AccuracyHigh || tier == AccuracyMedium || tier == AccuracyLow
}

func IsValidSource(source string) bool {
	switch source {
	case SourceGPS, SourceWiFi, SourceIP, SourceOther:
		return true
	}
	return false
}

func IsValidStatus(status string) bool {
	return status == StatusOnline || status == StatusIdle || status == StatusOffline
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func (c Coordinates) Valid() bool {
	if math.IsNaN(c.Latitude) || math.IsNaN(c.Longitude) {
		return false
	}
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

type Address struct {
	City    string `json:"city,omitempty"`
	Region  string `json:"region,omitempty"`
	Country string `json:"country,omitempty"`
}

// LocationSample is one stored position. Samples are immutable and keyed by
// (SubjectID, Timestamp).
type LocationSample struct {
	SubjectID   uuid.UUID    `json:"subject_id"`
	Timestamp   time.Time    `json:"timestamp"`
	Coordinates *Coordinates `json:"coordinates"`
	Accuracy    string       `json:"accuracy"`
	Source      string       `json:"source"`
	Address     *Address     `json:"address,omitempty"`
}

// Redact returns a copy of the sample reduced to what the given consent level
// allows. ok is false when the sample must not be disclosed at all.
func (s LocationSample) Redact(level string) (out LocationSample, ok bool) {
	switch level {
	case ConsentLevelDetailed:
		out = s
		if s.Coordinates != nil {
			c := *s.Coordinates
			out.Coordinates = &c
		}
		if s.Address != nil {
			a := *s.Address
			out.Address = &a
		}
		return out, true
	case ConsentLevelBasic:
		out = s
		out.Coordinates = nil
		if s.Address != nil {
			out.Address = &Address{City: s.Address.City, Region: s.Address.Region}
		}
		return out, true
	default:
		return LocationSample{}, false
	}
}

// CurrentLocationView is the latest accepted sample for a subject. The sample
// timestamp only moves forward, so it also orders views of the same subject.
type CurrentLocationView struct {
	SubjectID uuid.UUID      `json:"subject_id"`
	Sample    LocationSample `json:"sample"`
	Status    string         `json:"status"`
}

// Liveness thresholds for CurrentLocationView.Status.
type Liveness struct {
	IdleAfter    time.Duration
	OfflineAfter time.Duration
}

func (l Liveness) StatusAt(sampleTime, now time.Time) string {
	age := now.Sub(sampleTime)
	switch {
	case age >= l.OfflineAfter:
		return StatusOffline
	case age >= l.IdleAfter:
		return StatusIdle
	default:
		return StatusOnline
	}
}

// WithStatus returns the view with Status computed for now.
func (v CurrentLocationView) WithStatus(l Liveness, now time.Time) CurrentLocationView {
	v.Status = l.StatusAt(v.Sample.Timestamp, now)
	return v
}
