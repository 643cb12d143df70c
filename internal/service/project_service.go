package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/automlhub/api/internal/catalog"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/store"
)

// ProjectService manages project records and the remote session of a project.
type ProjectService struct {
	records *store.RecordStore
	ledger  *ledger.Ledger
	catalog *catalog.Catalog
	compute client.ComputeService
	logger  *slog.Logger
	now     func() time.Time
}

// NewProjectService creates a project service.
func NewProjectService(records *store.RecordStore, l *ledger.Ledger, cat *catalog.Catalog, compute client.ComputeService, logger *slog.Logger) *ProjectService {
	return &ProjectService{
		records: records,
		ledger:  l,
		catalog: cat,
		compute: compute,
		logger:  logging.OrDefault(logger),
		now:     time.Now,
	}
}

// ListProjects returns every readable project.
func (s *ProjectService) ListProjects(ctx context.Context) ([]*model.Project, error) {
	return s.records.Projects(ctx)
}

// GetProject reads one project.
func (s *ProjectService) GetProject(ctx context.Context, projectID string) (*model.Project, error) {
	return s.records.Project(ctx, projectID)
}

// ProjectExists reports whether the project can be read. A storage failure
// counts as absent.
func (s *ProjectService) ProjectExists(ctx context.Context, projectID string) bool {
	return s.records.ProjectExists(ctx, projectID)
}

// CreateProject stores a new project under a generated id.
func (s *ProjectService) CreateProject(ctx context.Context, req *model.CreateProjectRequest) (*model.Project, error) {
	p := &model.Project{
		ID:          uuid.New().String(),
		Name:        req.Name,
		Description: req.Description,
		CreatedAt:   s.now(),
	}
	if err := s.StoreProject(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("project created", "project", p.ID, "name", p.Name)
	return p, nil
}

// StoreProject writes the project record.
func (s *ProjectService) StoreProject(ctx context.Context, p *model.Project) error {
	return s.records.PutProject(ctx, p)
}

// DeleteProject removes every object stored for the project.
func (s *ProjectService) DeleteProject(ctx context.Context, projectID string) error {
	if _, err := s.records.Project(ctx, projectID); err != nil {
		return err
	}
	if err := s.records.DeleteProject(ctx, projectID); err != nil {
		return err
	}
	s.logger.Info("project deleted", "project", projectID)
	return nil
}

// RenewSession drops everything the compute service holds for the project:
// cached reads, finished AutoML jobs with their models, and the parsed frames
// of its datasets. Frame deletion is best effort.
func (s *ProjectService) RenewSession(ctx context.Context, projectID string) (*ledger.Cleanup, error) {
	if _, err := s.records.Project(ctx, projectID); err != nil {
		return nil, err
	}

	s.catalog.InvalidateAll()
	cleanup, err := s.ledger.DeleteAllJobs(ctx, projectID)
	if err != nil {
		return nil, err
	}

	dataSets, err := s.records.DataSets(ctx, projectID)
	if err != nil {
		return cleanup, err
	}
	if len(dataSets) == 0 {
		return cleanup, nil
	}
	frames, err := s.compute.ListFrames(ctx)
	if err != nil {
		s.logger.Warn("failed to list frames", "project", projectID, "error", err)
		return cleanup, nil
	}

	for _, f := range frames {
		if !ownedFrame(projectID, dataSets, f.Name) {
			continue
		}
		if err := s.compute.DeleteFrame(ctx, f.Name); err != nil {
			s.logger.Warn("failed to delete frame", "project", projectID, "frame", f.Name, "error", err)
			continue
		}
		s.logger.Debug("deleted frame", "project", projectID, "frame", f.Name)
	}
	return cleanup, nil
}

// ownedFrame reports whether frameID was derived from one of the datasets.
func ownedFrame(projectID string, dataSets []*model.DataSet, frameID string) bool {
	if !strings.HasSuffix(frameID, ".hex") {
		return false
	}
	for _, ds := range dataSets {
		base := strings.TrimSuffix(store.FrameName(projectID, ds.ID), ".hex")
		if strings.HasPrefix(frameID, base) {
			return true
		}
	}
	return false
}
