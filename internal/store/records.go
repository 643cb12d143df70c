// Package store keeps JSON records of projects, datasets, jobs and models in
// the object store.
package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
)

const contentTypeJSON = "application/json; charset=utf-8"

// RecordStore reads and writes JSON records at deterministic paths.
type RecordStore struct {
	objects client.ObjectStore
	paths   Paths
	logger  *slog.Logger
}

// NewRecordStore creates a record store rooted at folder.
func NewRecordStore(objects client.ObjectStore, folder string, logger *slog.Logger) *RecordStore {
	return &RecordStore{
		objects: objects,
		paths:   Paths{Folder: folder, Bucket: objects.Bucket()},
		logger:  logging.OrDefault(logger),
	}
}

// Objects returns the underlying object store.
func (s *RecordStore) Objects() client.ObjectStore {
	return s.objects
}

// Paths returns the path layout.
func (s *RecordStore) Paths() Paths {
	return s.paths
}

// GetJSON decodes the object at key into v.
func (s *RecordStore) GetJSON(ctx context.Context, key string, v any) error {
	rc, err := s.objects.Get(ctx, key)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := json.NewDecoder(rc).Decode(v); err != nil {
		return apperrors.Storage("decode", key, err)
	}
	return nil
}

// PutJSON overwrites the object at key with v.
func (s *RecordStore) PutJSON(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Storage("encode", key, err)
	}
	return s.objects.Put(ctx, key, bytes.NewReader(data), contentTypeJSON)
}

// Project reads a project record.
func (s *RecordStore) Project(ctx context.Context, projectID string) (*model.Project, error) {
	var p model.Project
	if err := s.GetJSON(ctx, s.paths.ProjectFile(projectID), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// PutProject writes a project record.
func (s *RecordStore) PutProject(ctx context.Context, p *model.Project) error {
	return s.PutJSON(ctx, s.paths.ProjectFile(p.ID), p)
}

// ProjectExists reports whether the project record can be read. Any storage
// failure counts as absent.
func (s *RecordStore) ProjectExists(ctx context.Context, projectID string) bool {
	_, err := s.Project(ctx, projectID)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		s.logger.Debug("project lookup failed", "project", projectID, "error", err)
	}
	return err == nil
}

// Projects lists every readable project. Unreadable records are skipped.
func (s *RecordStore) Projects(ctx context.Context) ([]*model.Project, error) {
	entries, err := s.objects.List(ctx, s.paths.ProjectsPrefix(), false)
	if err != nil {
		return nil, err
	}
	projects := make([]*model.Project, 0, len(entries))
	for _, e := range entries {
		if !e.IsPrefix {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(e.Key, s.paths.ProjectsPrefix()), "/")
		p, err := s.Project(ctx, id)
		if err != nil {
			s.logger.Warn("skipping unreadable project", "project", id, "error", err)
			continue
		}
		projects = append(projects, p)
	}
	return projects, nil
}

// DeleteProject removes every object under the project prefix.
func (s *RecordStore) DeleteProject(ctx context.Context, projectID string) error {
	entries, err := s.objects.List(ctx, s.paths.ProjectPrefix(projectID), true)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		keys = append(keys, e.Key)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.objects.DeleteBatch(ctx, keys)
}

// DataSet reads a dataset record.
func (s *RecordStore) DataSet(ctx context.Context, projectID, dataSetID string) (*model.DataSet, error) {
	var ds model.DataSet
	if err := s.GetJSON(ctx, s.paths.DataSetFile(projectID, dataSetID), &ds); err != nil {
		return nil, err
	}
	return &ds, nil
}

// PutDataSet writes a dataset record.
func (s *RecordStore) PutDataSet(ctx context.Context, projectID string, ds *model.DataSet) error {
	return s.PutJSON(ctx, s.paths.DataSetFile(projectID, ds.ID), ds)
}

// DataSets lists the dataset records of a project.
func (s *RecordStore) DataSets(ctx context.Context, projectID string) ([]*model.DataSet, error) {
	entries, err := s.objects.List(ctx, s.paths.ConfigPrefix(projectID), true)
	if err != nil {
		return nil, err
	}
	dataSets := make([]*model.DataSet, 0, len(entries))
	for _, e := range entries {
		if !strings.HasSuffix(e.Key, "_dataset.json") {
			continue
		}
		var ds model.DataSet
		if err := s.GetJSON(ctx, e.Key, &ds); err != nil {
			s.logger.Warn("skipping unreadable dataset", "key", e.Key, "error", err)
			continue
		}
		dataSets = append(dataSets, &ds)
	}
	return dataSets, nil
}

// Jobs reads the job ledger. A project without a ledger has no jobs.
func (s *RecordStore) Jobs(ctx context.Context, projectID string) ([]*model.Job, error) {
	var jobs []*model.Job
	err := s.GetJSON(ctx, s.paths.JobsFile(projectID), &jobs)
	if errors.Is(err, apperrors.ErrNotFound) {
		return []*model.Job{}, nil
	}
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return jobs, nil
}

// PutJobs overwrites the whole job ledger in one write.
func (s *RecordStore) PutJobs(ctx context.Context, projectID string, jobs []*model.Job) error {
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return s.PutJSON(ctx, s.paths.JobsFile(projectID), jobs)
}

// PutModelSnapshot writes the metadata snapshot of an exported model.
func (s *RecordStore) PutModelSnapshot(ctx context.Context, projectID, leaderboardID string, m *model.Model) error {
	if m == nil || m.ModelID.Name == "" {
		return apperrors.Validation("modelId", "model snapshot without id")
	}
	return s.PutJSON(ctx, s.paths.ModelSnapshotFile(projectID, leaderboardID, m.ModelID.Name), m)
}

// ModelSnapshot reads an exported model snapshot.
func (s *RecordStore) ModelSnapshot(ctx context.Context, projectID, leaderboardID, modelID string) (*model.Model, error) {
	var m model.Model
	if err := s.GetJSON(ctx, s.paths.ModelSnapshotFile(projectID, leaderboardID, modelID), &m); err != nil {
		return nil, fmt.Errorf("failed to read model snapshot: %w", err)
	}
	return &m, nil
}
