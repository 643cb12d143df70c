package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/auth"
	"github.com/automlhub/api/internal/cache"
	"github.com/automlhub/api/internal/catalog"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/handler"
	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/middleware"
	"github.com/automlhub/api/internal/observability"
	"github.com/automlhub/api/internal/service"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/testutil"
	ws "github.com/automlhub/api/internal/websocket"
	"github.com/automlhub/api/internal/worker"
	"github.com/automlhub/api/internal/workflow"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds all components needed for testing
type testApp struct {
	app        *fiber.App
	objects    *client.MemoryStore
	compute    *testutil.FakeCompute
	ledger     *ledger.Ledger
	dispatcher *worker.LocalDispatcher
}

// setupApp wires the same routes as main.go over an in-memory object store, a
// fake compute service and in-process workflow dispatch. Rate limiting is off.
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithAuth(t, middleware.NewLegacyAuthMiddleware(testJWTSecret))
}

// setupAppWithAuth is setupApp with a different auth middleware.
func setupAppWithAuth(t *testing.T, authMiddleware *middleware.AuthMiddleware) *testApp {
	t.Helper()
	log := logging.Discard()
	ctx, cancel := context.WithCancel(context.Background())

	objects := client.NewMemoryStore("automl")
	compute := testutil.NewFakeCompute("age", "income", "churned")
	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	records := store.NewRecordStore(objects, "projects", log)
	jobLedger := ledger.New(records, compute, log, ledger.WithObserver(hub), ledger.WithMetrics(metrics))
	cat := catalog.New(compute, cache.New(100, 10*time.Minute, metrics), log)
	fetcher := store.NewFetcher(objects, time.Millisecond, 3, metrics, log)

	dispatcher := worker.NewLocalDispatcher(log)
	orch := workflow.New(workflow.Deps{
		Ledger:     jobLedger,
		Records:    records,
		Compute:    compute,
		Catalog:    cat,
		Dispatcher: dispatcher,
		Metrics:    metrics,
		Logger:     log,
	})
	dispatcher.Handle(orch.Handlers())

	t.Cleanup(func() {
		dispatcher.Wait()
		jobLedger.Wait()
		cancel()
	})

	validate := validator.New()
	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})
	app.Use(middleware.Metrics(metrics))

	handler.Register(app, handler.Routes{
		Projects:     handler.NewProjectHandler(service.NewProjectService(records, jobLedger, cat, compute, log), validate),
		DataSets:     handler.NewDataSetHandler(service.NewDataSetService(records, orch, compute, fetcher, log), validate),
		Jobs:         handler.NewJobHandler(jobLedger),
		Models:       handler.NewModelHandler(service.NewModelService(records, orch, cat, compute, servingResources(t), log), validate),
		Frames:       handler.NewFrameHandler(service.NewFrameService(cat, compute, log), validate),
		Auth:         handler.NewAuthHandler(nil, testJWTSecret),
		Hub:          hub,
		RateLimiter:  middleware.NewRateLimiter(nil, log),
		RateLimit:    config.RateLimitConfig{WorkflowsPerHour: 10000, ReadsPerMin: 10000},
		Authenticate: authMiddleware.Authenticate(),
		Metrics:      metricsHandler,
		Health: func() fiber.Map {
			return fiber.Map{"storage": false, "compute": true, "auth": true}
		},
	})

	return &testApp{
		app:        app,
		objects:    objects,
		compute:    compute,
		ledger:     jobLedger,
		dispatcher: dispatcher,
	}
}

// servingResources writes the files a serving bundle is assembled from.
func servingResources(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"Dockerfile.serving": "FROM eclipse-temurin:17",
		"serving-1.0.0.jar":  "jar",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write %s: %v", name, err)
		}
	}
	return dir
}

// generateToken creates a legacy HMAC JWT token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.GenerateLegacyToken(testJWTSecret, "test-user-123", "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// mustAuthRequest performs an authenticated request and fails the test on transport errors.
func mustAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doAuthRequest(t, app, method, path, body)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// uploadFile posts a multipart dataset upload.
func uploadFile(t *testing.T, app *fiber.App, projectID, fileName, content string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("failed to create form file: %v", err)
	}
	if _, err := part.Write([]byte(content)); err != nil {
		t.Fatalf("failed to write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "/api/projects/"+projectID+"/datasets", &buf)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+generateToken(t))

	resp, err := app.Test(req, -1)
	if err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	return resp
}

// createProject creates a project and returns its id.
func createProject(t *testing.T, ta *testApp) string {
	t.Helper()
	resp := mustAuthRequest(t, ta.app, http.MethodPost, "/api/projects", `{"name": "churn"}`)
	assertStatus(t, resp, http.StatusCreated)
	id, _ := parseJSON(t, resp)["id"].(string)
	if id == "" {
		t.Fatal("expected project id")
	}
	return id
}

// uploadDataSet uploads a CSV and waits for its schema to load.
func uploadDataSet(t *testing.T, ta *testApp, projectID, fileName string) string {
	t.Helper()
	resp := uploadFile(t, ta.app, projectID, fileName, "age,income,churned\n31,52000,0\n45,61000,1\n")
	assertStatus(t, resp, http.StatusAccepted)
	body := parseJSON(t, resp)
	ds, _ := body["dataSet"].(map[string]interface{})
	id, _ := ds["id"].(string)
	if id == "" {
		t.Fatalf("expected dataset id, got %v", body)
	}
	ta.dispatcher.Wait()
	return id
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// parseJSONArray parses response body into a slice of objects.
func parseJSONArray(t *testing.T, resp *http.Response) []map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result []map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON array: %v\nbody: %s", err, body)
	}
	return result
}

// errorCode returns error.code of an error envelope.
func errorCode(t *testing.T, resp *http.Response) string {
	t.Helper()
	envelope, _ := parseJSON(t, resp)["error"].(map[string]interface{})
	code, _ := envelope["code"].(string)
	return code
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
