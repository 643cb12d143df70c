package cli

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/config"
	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/testutil"
)

type fixture struct {
	records *store.RecordStore
	compute *testutil.FakeCompute
	ledger  *ledger.Ledger
	folder  string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := logging.Discard()
	records := store.NewRecordStore(client.NewMemoryStore("bucket"), "tenants", logger)
	compute := testutil.NewFakeCompute()
	l := ledger.New(records, compute, logger)
	t.Cleanup(l.Wait)
	return &fixture{records: records, compute: compute, ledger: l}
}

// run executes ledgerctl with a config file selecting the tenants folder.
func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ledgerctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("storage:\n  project_folder: tenants\n"), 0o600))

	open := func(cfg *config.Config, _ *slog.Logger) (*Env, error) {
		f.folder = cfg.Storage.ProjectFolder
		return &Env{Records: f.records, Ledger: f.ledger, Compute: f.compute}, nil
	}

	var out bytes.Buffer
	cmd := NewRootCmd(open)
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", path}, args...))
	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

func doneAutoML(lb string) *model.Job {
	j := model.NewJob("AutoML build "+lb, 1, &model.Key{Name: lb, Type: model.KeyTypeLeaderboard}, time.Now())
	j.Status = model.JobStatusDone
	return j
}

func TestProjectsList(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	out, err := f.run(t, "projects", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No projects found")
	assert.Equal(t, "tenants", f.folder)

	require.NoError(t, f.records.PutProject(ctx, &model.Project{ID: "p1", Name: "churn", CreatedAt: time.Now()}))
	out, err = f.run(t, "projects", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "p1")
	assert.Contains(t, out, "churn")
}

func TestJobsList(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	out, err := f.run(t, "jobs", "list", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found")

	running := model.NewJob(model.DescParseFrame, 0.2, nil, time.Now())
	f.compute.AddJob(&model.Job{Key: running.Key, Description: running.Description, Status: model.JobStatusFailed, Progress: 1, Exception: "bad csv"})
	require.NoError(t, f.ledger.Upsert(ctx, "p1", running))

	out, err = f.run(t, "jobs", "list", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, running.ID())
	assert.Contains(t, out, string(model.JobStatusRunning))

	out, err = f.run(t, "jobs", "list", "p1", "--refresh")
	require.NoError(t, err)
	assert.Contains(t, out, string(model.JobStatusFailed))

	stored, err := f.ledger.Get(ctx, "p1", running.ID())
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusFailed, stored.Status)
}

func TestJobsDelete(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	job := model.NewJob(model.DescExportModel, 0.5, nil, time.Now())
	require.NoError(t, f.ledger.Upsert(ctx, "p1", job))

	out, err := f.run(t, "jobs", "delete", "p1", job.ID())
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted: "+job.ID())

	jobs, err := f.ledger.List(ctx, "p1", false)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	_, err = f.run(t, "jobs", "delete", "p1", job.ID())
	require.Error(t, err)
}

func TestJobsPrune(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	f.compute.AddModel(&model.Model{ModelID: model.Key{Name: "GBM_1"}})
	f.compute.AddModel(&model.Model{ModelID: model.Key{Name: "GLM_1"}})
	f.compute.AddLeaderboard("p1@@churned", &model.Leaderboard{Models: []model.Key{{Name: "GBM_1"}, {Name: "GLM_1"}}})

	automl := doneAutoML("p1@@churned")
	export := model.NewJob(model.DescExportModel, 0.5, nil, time.Now())
	require.NoError(t, f.ledger.Persist(ctx, "p1", []*model.Job{automl, export}))

	out, err := f.run(t, "jobs", "prune", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed: "+automl.ID())
	assert.False(t, f.compute.HasModel("GBM_1"))
	assert.False(t, f.compute.HasModel("GLM_1"))

	jobs, err := f.ledger.List(ctx, "p1", false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, export.ID(), jobs[0].ID())

	out, err = f.run(t, "jobs", "prune", "p1")
	require.NoError(t, err)
	assert.Contains(t, out, "Nothing to prune")
}

func TestJobsPruneReportsFailedModels(t *testing.T) {
	f := newFixture(t)

	f.compute.AddLeaderboard("p1@@churned", &model.Leaderboard{Models: []model.Key{{Name: "GBM_1"}}})
	require.NoError(t, f.ledger.Persist(t.Context(), "p1", []*model.Job{doneAutoML("p1@@churned")}))

	_, err := f.run(t, "jobs", "prune", "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to delete 1 models")
}

func TestMissingConfigFile(t *testing.T) {
	f := newFixture(t)
	cmd := NewRootCmd(func(*config.Config, *slog.Logger) (*Env, error) {
		return &Env{Records: f.records, Ledger: f.ledger}, nil
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "projects", "list"})
	require.Error(t, cmd.ExecuteContext(t.Context()))
}

func TestJobsRemote(t *testing.T) {
	f := newFixture(t)

	out, err := f.run(t, "jobs", "remote")
	require.NoError(t, err)
	assert.Contains(t, out, "No jobs found")

	remote := model.NewJob("AutoML build churn@@label", 0.5, nil, time.Now())
	f.compute.AddJob(remote)
	out, err = f.run(t, "jobs", "remote")
	require.NoError(t, err)
	assert.Contains(t, out, remote.ID())
	assert.Contains(t, out, "AUTO_ML")
	assert.Equal(t, 1, f.compute.Calls("ListJobs"))

	f.compute.FailOn("ListJobs", errors.New("connection refused"))
	_, err = f.run(t, "jobs", "remote")
	assert.ErrorContains(t, err, "connection refused")
}
