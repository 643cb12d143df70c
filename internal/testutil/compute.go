package testutil

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/model"
)

var _ client.ComputeService = (*FakeCompute)(nil)

// FakeCompute is an in-memory compute service. Every call is counted by
// method name, and FailOn scripts an error for a method.
type FakeCompute struct {
	mu           sync.Mutex
	calls        map[string]int
	failures     map[string]error
	jobs         map[string]*model.Job
	frames       map[string]*model.Frame
	models       map[string]*model.Model
	leaderboards map[string]*model.Leaderboard
	exports      map[string]string
	columns      []string
	seq          int
}

// NewFakeCompute returns a fake that parses every file into the given columns.
func NewFakeCompute(columns ...string) *FakeCompute {
	if len(columns) == 0 {
		columns = []string{"sepal_len", "sepal_wid", "species"}
	}
	return &FakeCompute{
		calls:        make(map[string]int),
		failures:     make(map[string]error),
		jobs:         make(map[string]*model.Job),
		frames:       make(map[string]*model.Frame),
		models:       make(map[string]*model.Model),
		leaderboards: make(map[string]*model.Leaderboard),
		exports:      make(map[string]string),
		columns:      columns,
	}
}

// FailOn makes every later call of method return err. A nil err clears it.
func (f *FakeCompute) FailOn(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, method)
		return
	}
	f.failures[method] = err
}

// Calls returns how often method was called.
func (f *FakeCompute) Calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// AddJob registers a remote job.
func (f *FakeCompute) AddJob(job *model.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs[job.ID()] = job.Clone()
}

// RemoveJob forgets a remote job, as the compute service does for finished builds.
func (f *FakeCompute) RemoveJob(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, key)
}

// SetJobStatus changes the status of a remote job.
func (f *FakeCompute) SetJobStatus(key string, status model.JobStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if j, ok := f.jobs[key]; ok {
		j.Status = status
		if status.Terminal() {
			j.Progress = 1
		}
	}
}

// Job returns a copy of a remote job.
func (f *FakeCompute) Job(key string) (*model.Job, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	if !ok {
		return nil, false
	}
	return j.Clone(), true
}

// AddFrame registers a remote frame.
func (f *FakeCompute) AddFrame(frame *model.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames[frame.FrameID.Name] = frame
}

// FrameNames returns the sorted names of all remote frames.
func (f *FakeCompute) FrameNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, 0, len(f.frames))
	for n := range f.frames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// AddModel registers a remote model.
func (f *FakeCompute) AddModel(m *model.Model) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.models[m.ModelID.Name] = m
}

// HasModel reports whether a model still exists remotely.
func (f *FakeCompute) HasModel(modelID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.models[modelID]
	return ok
}

// AddLeaderboard registers a leaderboard under id.
func (f *FakeCompute) AddLeaderboard(id string, lb *model.Leaderboard) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leaderboards[id] = lb
}

// Exports returns the export destinations keyed by exported frame or model id.
func (f *FakeCompute) Exports() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.exports))
	for k, v := range f.exports {
		out[k] = v
	}
	return out
}

// enter records a call and returns the scripted failure, if any. The caller holds mu.
func (f *FakeCompute) enter(method string) error {
	f.calls[method]++
	return f.failures[method]
}

func (f *FakeCompute) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func notFound(op, id string) error {
	return apperrors.RemoteAccess(op, http.StatusNotFound, fmt.Sprintf(`{"msg":"%s not found"}`, id), nil)
}

func (f *FakeCompute) ImportFiles(ctx context.Context, path string) (*model.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ImportFiles"); err != nil {
		return nil, err
	}
	raw := f.nextID("raw")
	f.frames[raw] = &model.Frame{FrameID: model.Key{Name: raw, Type: model.KeyTypeFrame}}
	return &model.ImportResult{Files: []string{path}, DestinationFrames: []string{raw}}, nil
}

func (f *FakeCompute) ParseSetup(ctx context.Context, sourceFrames []string) (*model.ParseSetup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ParseSetup"); err != nil {
		return nil, err
	}
	keys := make([]model.Key, 0, len(sourceFrames))
	for _, s := range sourceFrames {
		keys = append(keys, model.Key{Name: s, Type: model.KeyTypeFrame})
	}
	types := make([]string, len(f.columns))
	for i := range types {
		types[i] = "Numeric"
	}
	return &model.ParseSetup{
		SourceFrames:     keys,
		ParseType:        "CSV",
		Separator:        ',',
		CheckHeader:      1,
		NumberColumns:    len(f.columns),
		ColumnNames:      append([]string(nil), f.columns...),
		ColumnTypes:      types,
		DestinationFrame: "setup.hex",
	}, nil
}

func (f *FakeCompute) Parse(ctx context.Context, setup *model.ParseSetup) (*model.ParseResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Parse"); err != nil {
		return nil, err
	}
	dest := model.Key{Name: setup.DestinationFrame, Type: model.KeyTypeFrame}
	cols := make([]model.Column, len(setup.ColumnNames))
	for i, n := range setup.ColumnNames {
		cols[i] = model.Column{Label: n, Type: "real"}
	}
	f.frames[dest.Name] = &model.Frame{FrameID: dest, NumColumns: len(cols), Columns: cols}
	job := &model.Job{
		Key:          model.Key{Name: f.nextID("parse"), Type: model.KeyTypeJob},
		Description:  "Parse",
		Status:       model.JobStatusRunning,
		Progress:     0.1,
		Dest:         &dest,
		ReadyForView: true,
	}
	f.jobs[job.ID()] = job
	return &model.ParseResult{Job: job.Clone(), DestinationFrame: dest}, nil
}

func (f *FakeCompute) RunAutoML(ctx context.Context, spec *model.AutoMLSpec) (*model.AutoMLResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("RunAutoML"); err != nil {
		return nil, err
	}
	lbID := spec.LeaderboardID()
	job := &model.Job{
		Key:          model.Key{Name: f.nextID("automl"), Type: model.KeyTypeJob},
		Description:  "AutoML build " + lbID,
		Status:       model.JobStatusRunning,
		Dest:         &model.Key{Name: lbID, Type: model.KeyTypeLeaderboard},
		ReadyForView: true,
	}
	f.jobs[job.ID()] = job
	return &model.AutoMLResult{Job: job.Clone()}, nil
}

func (f *FakeCompute) GetJob(ctx context.Context, key string) (*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetJob"); err != nil {
		return nil, err
	}
	j, ok := f.jobs[key]
	if !ok {
		return nil, notFound("compute.GetJob", key)
	}
	return j.Clone(), nil
}

func (f *FakeCompute) ListJobs(ctx context.Context) ([]*model.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListJobs"); err != nil {
		return nil, err
	}
	out := make([]*model.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		out = append(out, j.Clone())
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID() < out[b].ID() })
	return out, nil
}

func (f *FakeCompute) CancelJob(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CancelJob"); err != nil {
		return err
	}
	j, ok := f.jobs[key]
	if !ok {
		return notFound("compute.CancelJob", key)
	}
	j.Status = model.JobStatusCancelled
	j.Progress = 1
	return nil
}

func (f *FakeCompute) ListFrames(ctx context.Context) ([]model.Key, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListFrames"); err != nil {
		return nil, err
	}
	keys := make([]model.Key, 0, len(f.frames))
	for _, fr := range f.frames {
		keys = append(keys, fr.FrameID)
	}
	sort.Slice(keys, func(a, b int) bool { return keys[a].Name < keys[b].Name })
	return keys, nil
}

func (f *FakeCompute) DeleteFrame(ctx context.Context, frameID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteFrame"); err != nil {
		return err
	}
	if _, ok := f.frames[frameID]; !ok {
		return notFound("compute.DeleteFrame", frameID)
	}
	delete(f.frames, frameID)
	return nil
}

func (f *FakeCompute) BindFrames(ctx context.Context, dest string, sources []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("BindFrames"); err != nil {
		return err
	}
	var cols []model.Column
	for _, s := range sources {
		fr, ok := f.frames[s]
		if !ok {
			return notFound("compute.BindFrames", s)
		}
		cols = append(cols, fr.Columns...)
	}
	f.frames[dest] = &model.Frame{FrameID: model.Key{Name: dest, Type: model.KeyTypeFrame}, NumColumns: len(cols), Columns: cols}
	return nil
}

func (f *FakeCompute) ExportFrame(ctx context.Context, frameID, path string, overwrite bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ExportFrame"); err != nil {
		return err
	}
	if _, ok := f.frames[frameID]; !ok {
		return notFound("compute.ExportFrame", frameID)
	}
	f.exports[frameID] = path
	return nil
}

func (f *FakeCompute) Predict(ctx context.Context, modelID, frameID string) (*model.PredictResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("Predict"); err != nil {
		return nil, err
	}
	if _, ok := f.frames[frameID]; !ok {
		return nil, notFound("compute.Predict", frameID)
	}
	pred := model.Key{Name: f.nextID("prediction"), Type: model.KeyTypeFrame}
	f.frames[pred.Name] = &model.Frame{FrameID: pred, NumColumns: 1, Columns: []model.Column{{Label: "predict", Type: "enum"}}}
	return &model.PredictResult{PredictionsFrame: pred}, nil
}

func (f *FakeCompute) GetModel(ctx context.Context, modelID string) (*model.Model, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetModel"); err != nil {
		return nil, err
	}
	m, ok := f.models[modelID]
	if !ok {
		return nil, notFound("compute.GetModel", modelID)
	}
	return m, nil
}

func (f *FakeCompute) ExportModel(ctx context.Context, modelID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ExportModel"); err != nil {
		return err
	}
	if _, ok := f.models[modelID]; !ok {
		return notFound("compute.ExportModel", modelID)
	}
	f.exports[modelID] = path
	return nil
}

func (f *FakeCompute) DeleteModel(ctx context.Context, modelID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DeleteModel"); err != nil {
		return err
	}
	if _, ok := f.models[modelID]; !ok {
		return notFound("compute.DeleteModel", modelID)
	}
	delete(f.models, modelID)
	return nil
}

func (f *FakeCompute) DownloadMojo(ctx context.Context, modelID string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DownloadMojo"); err != nil {
		return nil, err
	}
	if _, ok := f.models[modelID]; !ok {
		return nil, notFound("compute.DownloadMojo", modelID)
	}
	return io.NopCloser(bytes.NewReader([]byte("mojo:" + modelID))), nil
}

func (f *FakeCompute) DownloadGenModel(ctx context.Context) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("DownloadGenModel"); err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader([]byte("genmodel-jar"))), nil
}

func (f *FakeCompute) GetLeaderboard(ctx context.Context, leaderboardID string) (*model.Leaderboard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetLeaderboard"); err != nil {
		return nil, err
	}
	lb, ok := f.leaderboards[leaderboardID]
	if !ok {
		return nil, notFound("compute.GetLeaderboard", leaderboardID)
	}
	return lb, nil
}

func (f *FakeCompute) GetColumnSummaries(ctx context.Context, frameID string) (*model.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetColumnSummaries"); err != nil {
		return nil, err
	}
	fr, ok := f.frames[frameID]
	if !ok {
		return nil, notFound("compute.GetColumnSummaries", frameID)
	}
	return fr.Clone(), nil
}

func (f *FakeCompute) GetFrameData(ctx context.Context, q model.FrameQuery) (*model.Frame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetFrameData"); err != nil {
		return nil, err
	}
	fr, ok := f.frames[q.FrameID]
	if !ok {
		return nil, notFound("compute.GetFrameData", q.FrameID)
	}
	c := fr.Clone()
	c.RowOffset = q.RowOffset
	c.RowCount = q.RowCount
	if q.Column != "" {
		col, ok := c.Column(q.Column)
		if !ok {
			return nil, notFound("compute.GetFrameData", q.FrameID+"/"+q.Column)
		}
		c.Columns = []model.Column{*col}
		c.NumColumns = 1
	}
	return c, nil
}

func (f *FakeCompute) ChangeColumnType(ctx context.Context, frameID string, index int, columnType string, from, to int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ChangeColumnType"); err != nil {
		return err
	}
	fr, ok := f.frames[frameID]
	if !ok {
		return notFound("compute.ChangeColumnType", frameID)
	}
	if index < 0 || index >= len(fr.Columns) {
		return apperrors.RemoteAccess("compute.ChangeColumnType", http.StatusBadRequest, "column index out of range", nil)
	}
	fr.Columns[index].Type = columnType
	return nil
}
