package metrics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func resetHealth() {
	healthChecker = &HealthChecker{
		components: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

func TestRegisterComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("storage", true, "bolt store open")

	if len(healthChecker.components) != 1 {
		t.Errorf("expected 1 component, got %d", len(healthChecker.components))
	}

	comp := healthChecker.components["storage"]
	if !comp.Healthy {
		t.Error("component should be healthy")
	}

	if comp.Message != "bolt store open" {
		t.Errorf("expected message 'bolt store open', got '%s'", comp.Message)
	}
}

func TestUpdateComponent(t *testing.T) {
	resetHealth()

	RegisterComponent("scheduler", true, "scanning")
	UpdateComponent("scheduler", false, "scan loop stalled")

	comp := healthChecker.components["scheduler"]
	if comp.Healthy {
		t.Error("component should be unhealthy after update")
	}

	if comp.Message != "scan loop stalled" {
		t.Errorf("expected message 'scan loop stalled', got '%s'", comp.Message)
	}
}

func TestGetHealth(t *testing.T) {
	tests := []struct {
		name       string
		setup      func()
		wantStatus string
	}{
		{
			name: "all healthy",
			setup: func() {
				RegisterComponent("storage", true, "")
				RegisterComponent("api", true, "")
			},
			wantStatus: "healthy",
		},
		{
			name: "critical component unhealthy",
			setup: func() {
				RegisterComponent("storage", false, "database closed")
				RegisterComponent("api", true, "")
			},
			wantStatus: "unhealthy",
		},
		{
			name: "auxiliary component unhealthy degrades only",
			setup: func() {
				RegisterComponent("storage", true, "")
				RegisterComponent("monitor", false, "alert sink unreachable")
			},
			wantStatus: "degraded",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			tt.setup()

			health := GetHealth()
			if health.Status != tt.wantStatus {
				t.Errorf("expected status '%s', got '%s'", tt.wantStatus, health.Status)
			}
		})
	}
}

func TestGetHealthComponentMessages(t *testing.T) {
	resetHealth()
	SetVersion("1.0.0")

	RegisterComponent("storage", true, "")
	RegisterComponent("scheduler", false, "not started")

	health := GetHealth()

	if health.Components["storage"] != "healthy" {
		t.Errorf("unexpected storage status: %s", health.Components["storage"])
	}

	if health.Components["scheduler"] != "unhealthy: not started" {
		t.Errorf("unexpected scheduler status: %s", health.Components["scheduler"])
	}

	if health.Version != "1.0.0" {
		t.Errorf("expected version '1.0.0', got '%s'", health.Version)
	}
}

func TestGetReadiness(t *testing.T) {
	tests := []struct {
		name       string
		setup      func()
		wantStatus string
	}{
		{
			name: "all critical components ready",
			setup: func() {
				RegisterComponent("storage", true, "")
				RegisterComponent("scheduler", true, "")
				RegisterComponent("api", true, "")
			},
			wantStatus: "ready",
		},
		{
			name: "critical component missing",
			setup: func() {
				RegisterComponent("api", true, "")
				// storage and scheduler not registered
			},
			wantStatus: "not_ready",
		},
		{
			name: "critical component unhealthy",
			setup: func() {
				RegisterComponent("storage", false, "flush failing")
				RegisterComponent("scheduler", true, "")
				RegisterComponent("api", true, "")
			},
			wantStatus: "not_ready",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetHealth()
			tt.setup()

			readiness := GetReadiness()
			if readiness.Status != tt.wantStatus {
				t.Errorf("expected status '%s', got '%s'", tt.wantStatus, readiness.Status)
			}

			if tt.wantStatus == "not_ready" && readiness.Message == "" {
				t.Error("expected message explaining why not ready")
			}
		})
	}
}

func TestHealthHandler(t *testing.T) {
	resetHealth()
	SetVersion("test")

	RegisterComponent("storage", true, "")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if health.Status != "healthy" {
		t.Errorf("expected healthy status, got %s", health.Status)
	}

	if health.Version != "test" {
		t.Errorf("expected version 'test', got %s", health.Version)
	}
}

func TestHealthHandlerUnhealthy(t *testing.T) {
	resetHealth()

	RegisterComponent("storage", false, "database closed")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}
}

func TestHealthHandlerDegradedStays200(t *testing.T) {
	resetHealth()

	RegisterComponent("storage", true, "")
	RegisterComponent("monitor", false, "alert sink unreachable")

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	HealthHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200 for degraded, got %d", w.Code)
	}

	var health HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if health.Status != "degraded" {
		t.Errorf("expected degraded status, got %s", health.Status)
	}
}

func TestReadyHandler(t *testing.T) {
	resetHealth()

	RegisterComponent("storage", true, "")
	RegisterComponent("scheduler", true, "")
	RegisterComponent("api", true, "")

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
}

func TestReadyHandlerNotReady(t *testing.T) {
	resetHealth()

	RegisterComponent("api", true, "")
	// storage not registered

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()

	ReadyHandler()(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status 503, got %d", w.Code)
	}

	var readiness HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&readiness); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if readiness.Status != "not_ready" {
		t.Errorf("expected not_ready status, got %s", readiness.Status)
	}

	if readiness.Components["storage"] != "not registered" {
		t.Errorf("unexpected storage readiness: %s", readiness.Components["storage"])
	}
}

func TestLivenessHandler(t *testing.T) {
	resetHealth()

	req := httptest.NewRequest("GET", "/livez", nil)
	w := httptest.NewRecorder()

	LivenessHandler()(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]string
	if err := json.NewDecoder(w.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response["status"] != "alive" {
		t.Errorf("expected status 'alive', got '%s'", response["status"])
	}

	if response["uptime"] == "" {
		t.Error("uptime should not be empty")
	}
}
