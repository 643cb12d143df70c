package e2e

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"net/url"
	"testing"

	"github.com/automlhub/api/internal/model"
)

// startAutoML uploads a dataset and starts AutoML on it. It returns the
// project id and the ledger job after the workflow has run.
func startAutoML(t *testing.T, ta *testApp) (string, map[string]interface{}) {
	t.Helper()
	projectID := createProject(t, ta)
	dataSetID := uploadDataSet(t, ta, projectID, "train.csv")

	resp := mustAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+projectID+"/automl",
		`{"dataSetId": "`+dataSetID+`", "responseColumn": "churned", "maxModels": 5}`)
	assertStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()
	ta.dispatcher.Wait()

	resp = mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/jobs", "")
	assertStatus(t, resp, http.StatusOK)
	jobs := parseJSONArray(t, resp)
	if len(jobs) != 1 {
		t.Fatalf("expected one job, got %v", jobs)
	}
	return projectID, jobs[0]
}

func jobKey(job map[string]interface{}) string {
	key, _ := job["key"].(map[string]interface{})
	name, _ := key["name"].(string)
	return name
}

func TestAutoML_Lifecycle(t *testing.T) {
	ta := setupApp(t)
	projectID, job := startAutoML(t, ta)

	if job["status"] != string(model.JobStatusRunning) {
		t.Errorf("expected RUNNING, got %v", job["status"])
	}
	dest, _ := job["dest"].(map[string]interface{})
	if dest["name"] != projectID+"@@churned" {
		t.Errorf("expected leaderboard destination, got %v", dest)
	}

	// The remote build finishes; a refreshing list reconciles it.
	ta.compute.SetJobStatus(jobKey(job), model.JobStatusDone)
	resp := mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/jobs?refresh=true", "")
	assertStatus(t, resp, http.StatusOK)
	jobs := parseJSONArray(t, resp)
	if len(jobs) != 1 || jobs[0]["status"] != string(model.JobStatusDone) {
		t.Fatalf("expected DONE after refresh, got %v", jobs)
	}

	resp = mustAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+projectID+"/jobs", "")
	assertStatus(t, resp, http.StatusAccepted)
	removed, _ := parseJSON(t, resp)["removed"].([]interface{})
	if len(removed) != 1 {
		t.Errorf("expected one removed job, got %v", removed)
	}

	resp = mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/jobs", "")
	if jobs := parseJSONArray(t, resp); len(jobs) != 0 {
		t.Errorf("expected empty ledger, got %v", jobs)
	}
}

func TestAutoML_InvalidRequests(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta)
	dataSetID := uploadDataSet(t, ta, projectID, "train.csv")

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"missing fields", `{}`, http.StatusBadRequest},
		{"unknown column", `{"dataSetId": "` + dataSetID + `", "responseColumn": "nope"}`, http.StatusBadRequest},
		{"unknown dataset", `{"dataSetId": "bm9wZQ", "responseColumn": "churned"}`, http.StatusNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			resp := mustAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+projectID+"/automl", tc.body)
			assertStatus(t, resp, tc.status)
			resp.Body.Close()
		})
	}
}

func TestJobs_Delete(t *testing.T) {
	ta := setupApp(t)
	projectID, job := startAutoML(t, ta)
	key := jobKey(job)

	resp := mustAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+projectID+"/jobs/"+url.PathEscape(key), "")
	assertStatus(t, resp, http.StatusNoContent)
	ta.ledger.Wait()

	// Deleting a running job cancels it remotely.
	remote, ok := ta.compute.Job(key)
	if !ok || remote.Status != model.JobStatusCancelled {
		t.Errorf("expected remote job to be cancelled, got %v", remote)
	}

	resp = mustAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+projectID+"/jobs/"+url.PathEscape(key), "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestModels_GetExportDelete(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta)
	lbID := projectID + "@@churned"
	ta.compute.AddModel(&model.Model{ModelID: model.Key{Name: "GBM_1"}, Algo: "gbm"})
	ta.compute.AddLeaderboard(lbID, &model.Leaderboard{ProjectName: projectID, Models: []model.Key{{Name: "GBM_1"}}})

	resp := mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/leaderboards/"+url.PathEscape(lbID), "")
	assertStatus(t, resp, http.StatusOK)
	if models, _ := parseJSON(t, resp)["models"].([]interface{}); len(models) != 1 {
		t.Errorf("expected one ranked model, got %v", models)
	}

	resp = mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/models/GBM_1", "")
	assertStatus(t, resp, http.StatusOK)
	if algo := parseJSON(t, resp)["algo"]; algo != "gbm" {
		t.Errorf("expected algo gbm, got %v", algo)
	}

	resp = mustAuthRequest(t, ta.app, http.MethodPost, "/api/projects/"+projectID+"/models/GBM_1/export", "")
	assertStatus(t, resp, http.StatusBadRequest)

	resp = mustAuthRequest(t, ta.app, http.MethodPost,
		"/api/projects/"+projectID+"/models/GBM_1/export?leaderboardId="+url.QueryEscape(lbID), "")
	assertStatus(t, resp, http.StatusAccepted)
	resp.Body.Close()
	ta.dispatcher.Wait()
	if _, ok := ta.compute.Exports()["GBM_1"]; !ok {
		t.Errorf("expected GBM_1 to be exported, got %v", ta.compute.Exports())
	}

	resp = mustAuthRequest(t, ta.app, http.MethodDelete, "/api/projects/"+projectID+"/models/GBM_1", "")
	assertStatus(t, resp, http.StatusNoContent)

	resp = mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/models/GBM_1", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestModels_ServingBundle(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta)
	ta.compute.AddModel(&model.Model{ModelID: model.Key{Name: "GBM_1"}})

	resp := mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/models/GBM_1/serving", "")
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("expected application/zip, got %q", ct)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("failed to read bundle: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		t.Fatalf("invalid zip: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range zr.File {
		names[f.Name] = true
	}
	for _, want := range []string{"serving/Dockerfile", "serving/serving.jar", "serving/model.zip"} {
		if !names[want] {
			t.Errorf("bundle is missing %s", want)
		}
	}

	resp = mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+"/models/unknown/serving", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestModels_Artifacts(t *testing.T) {
	ta := setupApp(t)
	projectID := createProject(t, ta)
	ta.compute.AddModel(&model.Model{ModelID: model.Key{Name: "GBM_1"}})

	tests := []struct {
		path        string
		contentType string
		fileName    string
		body        string
	}{
		{"/models/GBM_1/mojo", "application/zip", "GBM_1.zip", "mojo:GBM_1"},
		{"/models/GBM_1/genmodel", "application/java-archive", "h2o-genmodel.jar", "genmodel-jar"},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			resp := mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+tc.path, "")
			assertStatus(t, resp, http.StatusOK)
			if ct := resp.Header.Get("Content-Type"); ct != tc.contentType {
				t.Errorf("expected %s, got %q", tc.contentType, ct)
			}
			if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename="`+tc.fileName+`"` {
				t.Errorf("unexpected Content-Disposition %q", cd)
			}
			if body := readBody(t, resp); body != tc.body {
				t.Errorf("expected %q, got %q", tc.body, body)
			}
		})
	}

	for _, path := range []string{"/models/unknown/mojo", "/models/unknown/genmodel"} {
		resp := mustAuthRequest(t, ta.app, http.MethodGet, "/api/projects/"+projectID+path, "")
		assertStatus(t, resp, http.StatusNotFound)
		resp.Body.Close()
	}
}
