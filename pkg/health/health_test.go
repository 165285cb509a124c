package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func up(context.Context) error { return nil }

func failing(context.Context) error { return errors.New("connection refused") }

func TestRunAggregatesWorstStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
		code   int
	}{
		{"all up", map[string]Check{"index": Ping(up, StatusDown)}, StatusUp, http.StatusOK},
		{"degraded", map[string]Check{
			"index": Ping(up, StatusDown),
			"redis": Ping(failing, StatusDegraded),
		}, StatusDegraded, http.StatusOK},
		{"down wins", map[string]Check{
			"index": Ping(failing, StatusDown),
			"redis": Ping(failing, StatusDegraded),
		}, StatusDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for n, ch := range tt.checks {
				c.Register(n, ch)
			}
			if got := c.Run(context.Background()).Status; got != tt.want {
				t.Errorf("status = %s, want %s", got, tt.want)
			}

			rec := httptest.NewRecorder()
			c.ReadyHandler()(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			if rec.Code != tt.code {
				t.Errorf("code = %d, want %d", rec.Code, tt.code)
			}
			var report Report
			if err := json.NewDecoder(rec.Body).Decode(&report); err != nil {
				t.Fatal(err)
			}
			if len(report.Components) != len(tt.checks) {
				t.Errorf("components = %v", report.Components)
			}
		})
	}
}

func TestPingMessage(t *testing.T) {
	got := Ping(failing, StatusDegraded)(context.Background())
	if got.Status != StatusDegraded || got.Message != "connection refused" {
		t.Errorf("got %+v", got)
	}
}

func TestNames(t *testing.T) {
	c := NewChecker()
	c.Register("redis", Ping(up, StatusDegraded))
	c.Register("index", Ping(up, StatusDown))
	names := c.Names()
	if len(names) != 2 || names[0] != "index" || names[1] != "redis" {
		t.Errorf("names = %v", names)
	}
}
