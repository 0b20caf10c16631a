package dto

import "github.com/ems-dashboard/backend/internal/models"

type ErrorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

type SuccessResponse struct {
	OK   bool `json:"ok"`
	Data any  `json:"data,omitempty"`
}

type ListResponse struct {
	OK    bool `json:"ok"`
	Data  any  `json:"data"`
	Count int  `json:"count"`
}

type ConsentOverviewResponse struct {
	OK      bool                  `json:"ok"`
	Data    any                   `json:"data"`
	Summary models.ConsentSummary `json:"summary"`
}
