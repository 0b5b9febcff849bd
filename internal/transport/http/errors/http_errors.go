package errors

import (
	"encoding/json"
	"net/http"
	"time"
)

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// QuotaExceededError carries the quota state alongside the denial so the
// frontend can render usage without another round trip.
type QuotaExceededError struct {
	Code          string    `json:"code"`
	Message       string    `json:"message"`
	Usage         int       `json:"usage"`
	Limit         int       `json:"limit"`
	Remaining     int       `json:"remaining"`
	ResetAt       time.Time `json:"reset_at"`
	Plan          string    `json:"plan,omitempty"`
	Authenticated bool      `json:"authenticated"`
}

func Write(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
