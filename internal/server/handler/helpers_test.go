package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unauthorized", fmt.Errorf("auth: %w", domain.ErrUnauthorized), http.StatusForbidden},
		{"not found", domain.ErrNotFound, http.StatusNotFound},
		{"reentrant", domain.NewAttemptError(domain.ClassValidation, "reentrancy", domain.ErrReentrantAttempt), http.StatusConflict},
		{"validation", domain.NewAttemptError(domain.ClassValidation, "validate", domain.ErrInvalidOpportunity), http.StatusBadRequest},
		{"policy", domain.NewAttemptError(domain.ClassPolicy, "risk", domain.ErrRiskLimitExceeded), http.StatusUnprocessableEntity},
		{"rate limited", domain.NewAttemptError(domain.ClassPolicy, "admit", domain.ErrRateLimited), http.StatusTooManyRequests},
		{"systemic", domain.NewAttemptError(domain.ClassSystemic, "admit", domain.ErrEmergencyStop), http.StatusServiceUnavailable},
		{"shortfall", domain.NewAttemptError(domain.ClassExecution, "repay", domain.ErrRepaymentShortfall), http.StatusInternalServerError},
		{"plain", errors.New("max_requests must be positive"), http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := statusFor(tt.err, http.StatusBadRequest); got != tt.want {
				t.Errorf("statusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDurationUnmarshal(t *testing.T) {
	var v struct {
		A duration `json:"a"`
		B duration `json:"b"`
	}
	if err := json.Unmarshal([]byte(`{"a":"1m30s","b":1000}`), &v); err != nil {
		t.Fatal(err)
	}
	if time.Duration(v.A) != 90*time.Second || time.Duration(v.B) != time.Microsecond {
		t.Fatalf("got %v %v", time.Duration(v.A), time.Duration(v.B))
	}
	if err := json.Unmarshal([]byte(`{"a":"soon"}`), &v); err == nil {
		t.Fatal("invalid duration accepted")
	}
}
