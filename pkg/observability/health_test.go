package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil, "test")

	rr := httptest.NewRecorder()
	checker.Liveness(rr, httptest.NewRequest("GET", "/health/live", nil))

	if rr.Code != http.StatusOK {
		t.Errorf("Liveness returned %d, want %d", rr.Code, http.StatusOK)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}
}

func TestHealthChecker_Check(t *testing.T) {
	t.Run("no dependencies", func(t *testing.T) {
		status := NewHealthChecker(nil, nil, "v1").Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
		if status.Version != "v1" {
			t.Errorf("Expected version v1, got %s", status.Version)
		}
	})

	t.Run("redis healthy", func(t *testing.T) {
		_, client := newTestRedis(t)
		status := NewHealthChecker(nil, client, "").Check(context.Background())
		if status.Status != StatusHealthy {
			t.Errorf("Expected healthy, got %s", status.Status)
		}
		if status.Dependencies["redis"].Status != StatusHealthy {
			t.Errorf("Expected redis healthy, got %s", status.Dependencies["redis"].Status)
		}
	})

	t.Run("redis down", func(t *testing.T) {
		mr, client := newTestRedis(t)
		mr.Close()
		status := NewHealthChecker(nil, client, "").Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
	})

	t.Run("database ping fails", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing().WillReturnError(errors.New("connection refused"))

		status := NewHealthChecker(db, nil, "").Check(context.Background())
		if status.Status != StatusUnhealthy {
			t.Errorf("Expected unhealthy, got %s", status.Status)
		}
		if status.Dependencies["database"].Message != "connection refused" {
			t.Errorf("Unexpected message %q", status.Dependencies["database"].Message)
		}
	})

	t.Run("database healthy", func(t *testing.T) {
		db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
		if err != nil {
			t.Fatalf("Failed to create mock db: %v", err)
		}
		defer db.Close()
		mock.ExpectPing()

		status := NewHealthChecker(db, nil, "").Check(context.Background())
		if status.Dependencies["database"].Status != StatusHealthy {
			t.Errorf("Expected database healthy, got %s", status.Dependencies["database"].Status)
		}
	})
}

func TestHealthChecker_Readiness(t *testing.T) {
	mr, client := newTestRedis(t)
	checker := NewHealthChecker(nil, client, "")

	rr := httptest.NewRecorder()
	checker.Readiness(rr, httptest.NewRequest("GET", "/health/ready", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("Readiness returned %d, want 200", rr.Code)
	}

	mr.Close()
	rr = httptest.NewRecorder()
	checker.Readiness(rr, httptest.NewRequest("GET", "/health/ready", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Readiness returned %d, want 503", rr.Code)
	}

	var status HealthStatus
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	if status.Status != StatusUnhealthy {
		t.Errorf("Expected unhealthy, got %s", status.Status)
	}
}
