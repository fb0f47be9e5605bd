package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/OmniCloudOrg/OmniAgent/pkg/agent"
	"github.com/OmniCloudOrg/OmniAgent/pkg/cpi"
	"github.com/OmniCloudOrg/OmniAgent/pkg/instance"
	"github.com/OmniCloudOrg/OmniAgent/pkg/runtime"
	"github.com/OmniCloudOrg/OmniAgent/pkg/storage"
)

// MockRuntimeClient implements runtime.Client for testing
type MockRuntimeClient struct{}

func (m *MockRuntimeClient) Close() error                                          { return nil }
func (m *MockRuntimeClient) Ping(ctx context.Context) error                        { return nil }
func (m *MockRuntimeClient) PullImage(ctx context.Context, imageName string) error { return nil }
func (m *MockRuntimeClient) ListImages(ctx context.Context) ([]string, error) {
	return []string{"nginx:latest"}, nil
}
func (m *MockRuntimeClient) CreateContainer(ctx context.Context, cfg *runtime.ContainerConfig) (string, error) {
	return "test-container-id", nil
}
func (m *MockRuntimeClient) StartContainer(ctx context.Context, containerID string) error { return nil }
func (m *MockRuntimeClient) StopContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	return nil
}
func (m *MockRuntimeClient) RestartContainer(ctx context.Context, containerID string, timeoutSeconds int) error {
	return nil
}
func (m *MockRuntimeClient) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	return nil
}
func (m *MockRuntimeClient) GetContainerStatus(ctx context.Context, containerID string) (string, error) {
	return "running", nil
}
func (m *MockRuntimeClient) GetContainerStats(ctx context.Context, containerID string) (*runtime.ContainerStats, error) {
	return &runtime.ContainerStats{
		CPUPercent:    12.5,
		MemoryUsage:   1024,
		MemoryLimit:   4096,
		MemoryPercent: 25,
		NetworkRx:     10,
		NetworkTx:     20,
	}, nil
}
func (m *MockRuntimeClient) GetContainerLogs(ctx context.Context, containerID string, tail int) (string, error) {
	return "test logs", nil
}
func (m *MockRuntimeClient) ListContainers(ctx context.Context, all bool) ([]runtime.ContainerSummary, error) {
	return []runtime.ContainerSummary{}, nil
}
func (m *MockRuntimeClient) ConnectNetwork(ctx context.Context, containerID, networkName string) error {
	return nil
}
func (m *MockRuntimeClient) DisconnectNetwork(ctx context.Context, containerID, networkName string) error {
	return nil
}
func (m *MockRuntimeClient) StreamEvents(ctx context.Context) (<-chan runtime.Event, <-chan error) {
	out := make(chan runtime.Event, 1)
	errs := make(chan error, 1)
	out <- runtime.Event{Type: "container", Action: "start", Actor: "web", Time: 1700000000}
	close(out)
	return out, errs
}

const testCPIConfig = `{
  "name": "test-docker",
  "type": "container",
  "actions": {
    "create_container": {"command": "echo deployed {name} ports {ports} env {env}"},
    "start_container": {"command": "echo started {name}"},
    "stop_container": {"command": "echo stopped {name}"},
    "restart_container": {"command": "echo restarted {name}"},
    "delete_container": {"command": "echo deleted {name}"},
    "inspect_container": {"command": "echo '{\"name\":\"{name}\",\"state\":\"running\"}'"},
    "list_containers": {"command": "echo '[]'"}
  }
}`

func newTestServer(t *testing.T, cpiConfig string) (*Server, http.Handler) {
	t.Helper()

	tmpDir := t.TempDir()
	store, err := storage.New(filepath.Join(tmpDir, "test.db"), tmpDir)
	if err != nil {
		t.Fatalf("failed to create test storage: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	ag, err := agent.Load(store)
	if err != nil {
		t.Fatalf("failed to load agent identity: %v", err)
	}

	cpiPath := filepath.Join(tmpDir, "cpi.json")
	if err := os.WriteFile(cpiPath, []byte(cpiConfig), 0644); err != nil {
		t.Fatalf("failed to write cpi config: %v", err)
	}

	client := &MockRuntimeClient{}
	server := NewServer(instance.NewManager(store, client, ag.ID), store, client, cpi.New(cpiPath), ag)
	return server, server.Handler()
}

func setupTestServer(t *testing.T) (*Server, http.Handler) {
	return newTestServer(t, testCPIConfig)
}

// Helper for creating test instances in storage
func createTestInstance(t *testing.T, store storage.Storage, name string) *storage.InstanceRecord {
	t.Helper()

	inst := &storage.InstanceRecord{
		ID:          "inst-" + name,
		Name:        name,
		Image:       "nginx:latest",
		Status:      instance.StatusRunning,
		ContainerID: "test-container-id",
		AgentID:     "agent-test",
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if err := store.CreateInstance(inst); err != nil {
		t.Fatalf("failed to create test instance: %v", err)
	}

	return inst
}

func TestHealthEndpoint(t *testing.T) {
	server, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["status"] != "healthy" {
		t.Errorf("expected status 'healthy', got '%v'", response["status"])
	}
	if response["agentId"] != server.agent.ID {
		t.Errorf("expected agentId '%s', got '%v'", server.agent.ID, response["agentId"])
	}
	if response["name"] != server.agent.Name {
		t.Errorf("expected name '%s', got '%v'", server.agent.Name, response["name"])
	}
	if response["runtime"] != "ok" {
		t.Errorf("expected runtime 'ok', got '%v'", response["runtime"])
	}
}

func TestIndexPage(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("expected html content type, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "OmniAgent") {
		t.Error("expected landing page to mention OmniAgent")
	}
}

func TestDeployContainer(t *testing.T) {
	_, handler := setupTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"name":  "web",
		"image": "nginx:latest",
	})
	req := httptest.NewRequest("POST", "/containers/deploy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var payload string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if payload != "deployed web ports env\n" {
		t.Errorf("unexpected payload: %q", payload)
	}
}

func TestDeployContainerWithPortsAndEnv(t *testing.T) {
	_, handler := setupTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"name":        "web",
		"image":       "nginx:latest",
		"ports":       []string{"8080:80"},
		"environment": map[string]string{"APP_ENV": "prod"},
	})
	req := httptest.NewRequest("POST", "/containers/deploy", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var payload string
	if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	// The shell consumes the quotes the renderer leaves on the stripped
	// JSON forms, so echo sees plain words
	if payload != "deployed web ports 8080:80 env APP_ENV:prod\n" {
		t.Errorf("unexpected payload: %q", payload)
	}
}

func TestDeployContainerValidation(t *testing.T) {
	_, handler := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing image", `{"name": "web"}`},
		{"missing name", `{"image": "nginx:latest"}`},
		{"malformed json", `{"name": `},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/containers/deploy", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestContainerLifecycleRoutes(t *testing.T) {
	_, handler := setupTestServer(t)

	tests := []struct {
		path    string
		payload string
	}{
		{"/containers/web/start", "started web\n"},
		{"/containers/web/stop", "stopped web\n"},
		{"/containers/web/restart", "restarted web\n"},
		{"/containers/web/delete", "deleted web\n"},
	}

	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			req := httptest.NewRequest("POST", tc.path, nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
			}

			var payload string
			if err := json.Unmarshal(w.Body.Bytes(), &payload); err != nil {
				t.Fatalf("failed to parse response: %v", err)
			}
			if payload != tc.payload {
				t.Errorf("expected payload %q, got %q", tc.payload, payload)
			}
		})
	}
}

func TestInspectContainerReturnsRawJSON(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/containers/web", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	// JSON stdout passes through raw rather than re-encoded as a string
	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["name"] != "web" {
		t.Errorf("expected name 'web', got '%v'", response["name"])
	}
	if response["state"] != "running" {
		t.Errorf("expected state 'running', got '%v'", response["state"])
	}
}

func TestListContainersRoute(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/containers", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var containers []interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &containers); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(containers) != 0 {
		t.Errorf("expected empty list, got %d items", len(containers))
	}
}

func TestContainerActionNotDefined(t *testing.T) {
	_, handler := newTestServer(t, `{"actions": {"stop_container": {"command": "echo stopped"}}}`)

	req := httptest.NewRequest("POST", "/containers/web/restart", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "action not defined") {
		t.Errorf("expected action not defined error, got: %s", w.Body.String())
	}
}

func TestContainerCommandFailure(t *testing.T) {
	_, handler := newTestServer(t, `{"actions": {"stop_container": {"command": "echo boom >&2; exit 3"}}}`)

	req := httptest.NewRequest("POST", "/containers/web/stop", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "status 3") || !strings.Contains(w.Body.String(), "boom") {
		t.Errorf("expected exit status and stderr in error, got: %s", w.Body.String())
	}
}

func TestContainerPostExecFailure(t *testing.T) {
	_, handler := newTestServer(t, `{"actions": {"create_container": {"command": "echo created", "post_exec": ["exit 7"]}}}`)

	body := `{"name": "web", "image": "nginx:latest"}`
	req := httptest.NewRequest("POST", "/containers/deploy", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "post-exec step 0") {
		t.Errorf("expected failing step in error, got: %s", w.Body.String())
	}
}

func TestListInstancesEmpty(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/instances", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	var instances []interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &instances); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(instances) != 0 {
		t.Errorf("expected empty list, got %d items", len(instances))
	}
}

func TestCreateInstance(t *testing.T) {
	_, handler := setupTestServer(t)

	body, _ := json.Marshal(map[string]interface{}{
		"name":  "api-test",
		"image": "nginx:latest",
	})
	req := httptest.NewRequest("POST", "/instances", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}

	if response["name"] != "api-test" {
		t.Errorf("expected name 'api-test', got '%v'", response["name"])
	}
	if response["status"] != instance.StatusCreating {
		t.Errorf("expected status 'creating', got '%v'", response["status"])
	}
	id, _ := response["id"].(string)
	if !strings.HasPrefix(id, "inst-") {
		t.Errorf("expected inst- id prefix, got '%s'", id)
	}
}

func TestCreateInstanceValidation(t *testing.T) {
	_, handler := setupTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty body", `{}`},
		{"missing image", `{"name": "test"}`},
		{"malformed json", `{"name": `},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/instances", strings.NewReader(tc.body))
			req.Header.Set("Content-Type", "application/json")
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("expected status 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestInstanceNotFound(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/instances/nonexistent-id", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", w.Code)
	}
}

func TestGetInstanceFound(t *testing.T) {
	server, handler := setupTestServer(t)

	inst := createTestInstance(t, server.store, "webapp")

	req := httptest.NewRequest("GET", "/instances/"+inst.ID, nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["name"] != "webapp" {
		t.Errorf("expected name 'webapp', got '%v'", response["name"])
	}
}

func TestGetInstanceLogs(t *testing.T) {
	server, handler := setupTestServer(t)

	inst := createTestInstance(t, server.store, "logsapp")

	req := httptest.NewRequest("GET", "/instances/"+inst.ID+"/logs?tail=50", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["logs"] != "test logs" {
		t.Errorf("expected logs 'test logs', got '%s'", response["logs"])
	}
}

func TestGetInstanceLogsInvalidTail(t *testing.T) {
	server, handler := setupTestServer(t)

	inst := createTestInstance(t, server.store, "badtail")

	req := httptest.NewRequest("GET", "/instances/"+inst.ID+"/logs?tail=abc", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestInstanceMetrics(t *testing.T) {
	server, handler := setupTestServer(t)

	inst := createTestInstance(t, server.store, "metricsapp")

	req := httptest.NewRequest("GET", "/instances/"+inst.ID+"/metrics", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var response map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &response); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if response["cpuPercent"] != 12.5 {
		t.Errorf("expected cpuPercent 12.5, got %v", response["cpuPercent"])
	}
	if response["memoryUsage"] != float64(1024) {
		t.Errorf("expected memoryUsage 1024, got %v", response["memoryUsage"])
	}

	// The live read is recorded into history
	req = httptest.NewRequest("GET", "/instances/"+inst.ID+"/metrics/history", nil)
	w = httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var history []interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &history); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(history) != 1 {
		t.Errorf("expected 1 history point, got %d", len(history))
	}
}

func TestConnectNetwork(t *testing.T) {
	server, handler := setupTestServer(t)

	inst := createTestInstance(t, server.store, "netapp")

	body := `{"network": "web-net"}`
	req := httptest.NewRequest("POST", "/instances/"+inst.ID+"/network/connect", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestConnectNetworkRequiresName(t *testing.T) {
	server, handler := setupTestServer(t)

	inst := createTestInstance(t, server.store, "netapp2")

	req := httptest.NewRequest("POST", "/instances/"+inst.ID+"/network/connect", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected status 400, got %d", w.Code)
	}
}

func TestListImagesRoute(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/images", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	var images []string
	if err := json.Unmarshal(w.Body.Bytes(), &images); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	if len(images) != 1 || images[0] != "nginx:latest" {
		t.Errorf("unexpected images: %v", images)
	}
}

func TestEventsStream(t *testing.T) {
	_, handler := setupTestServer(t)

	req := httptest.NewRequest("GET", "/events", nil)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("expected event-stream content type, got %s", ct)
	}

	body := w.Body.String()
	if !strings.HasPrefix(body, "data: ") {
		t.Fatalf("expected SSE data frame, got: %q", body)
	}

	var ev runtime.Event
	payload := strings.TrimSpace(strings.TrimPrefix(body, "data: "))
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	if ev.Action != "start" || ev.Actor != "web" {
		t.Errorf("unexpected event: %+v", ev)
	}
}
