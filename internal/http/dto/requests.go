package dto

import "time"

type SetConsentRequest struct {
	HasConsent   *bool  `json:"has_consent"`
	ConsentLevel string `json:"consent_level"`
}

// RecordLocationRequest mirrors what the browser geolocation API reports.
// City and region are only honoured when the server has no geocoder.
type RecordLocationRequest struct {
	Latitude  *float64   `json:"latitude"`
	Longitude *float64   `json:"longitude"`
	Accuracy  *float64   `json:"accuracy"` // meters
	Source    string     `json:"source"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	City      string     `json:"city,omitempty"`
	Region    string     `json:"region,omitempty"`
	Country   string     `json:"country,omitempty"`
}
