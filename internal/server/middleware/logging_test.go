package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogging(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		caller    string
		wantLevel string
	}{
		{"implicit ok", 0, "hello", "", "INFO"},
		{"client error", http.StatusNotFound, "", "", "INFO"},
		{"server error", http.StatusInternalServerError, "boom", "", "ERROR"},
		{"signed caller", http.StatusCreated, "{}", "0x00000000000000000000000000000000000000Aa", "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := slog.New(slog.NewJSONHandler(&buf, nil))
			h := Logging(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if slot, ok := r.Context().Value(callerSlotKey{}).(*string); ok && tt.caller != "" {
					*slot = tt.caller
				}
				if tt.status != 0 {
					w.WriteHeader(tt.status)
					w.WriteHeader(http.StatusTeapot)
				}
				_, _ = w.Write([]byte(tt.body))
			}))
			h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/risk/params", nil))

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("log line %q: %v", buf.String(), err)
			}
			wantStatus := tt.status
			if wantStatus == 0 {
				wantStatus = http.StatusOK
			}
			if line["level"] != tt.wantLevel || line["status"] != float64(wantStatus) {
				t.Errorf("level %v status %v, want %s %d", line["level"], line["status"], tt.wantLevel, wantStatus)
			}
			if line["bytes"] != float64(len(tt.body)) {
				t.Errorf("bytes = %v, want %d", line["bytes"], len(tt.body))
			}
			if got, _ := line["caller"].(string); got != tt.caller {
				t.Errorf("caller = %q, want %q", got, tt.caller)
			}
		})
	}
}
