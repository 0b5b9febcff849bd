package dto

import "time"

type QuotaResponse struct {
	Authenticated bool      `json:"authenticated"`
	Plan          string    `json:"plan,omitempty"`
	Usage         int       `json:"usage"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	CanUse        bool      `json:"can_use"`
	ResetAt       time.Time `json:"reset_at"`
	MonthlyUsage  *int      `json:"monthly_usage,omitempty"`
	MonthlyLimit  *int      `json:"monthly_limit,omitempty"`
	Percentage    int       `json:"percentage"`
	Status        string    `json:"status"`
	Message       string    `json:"message"`
}
