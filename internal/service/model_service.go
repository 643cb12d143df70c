package service

import (
	"archive/zip"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/catalog"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/workflow"
)

// Files of a serving bundle.
const (
	servingDockerfile = "Dockerfile.serving"
	servingJarPattern = "serving-*.jar"
)

// ModelService trains, scores and exports models.
type ModelService struct {
	records      *store.RecordStore
	orchestrator *workflow.Orchestrator
	catalog      *catalog.Catalog
	compute      client.ComputeService
	resourcesDir string
	logger       *slog.Logger
}

// NewModelService creates a model service. resourcesDir holds the serving
// Dockerfile and runtime jar.
func NewModelService(records *store.RecordStore, orch *workflow.Orchestrator, cat *catalog.Catalog, compute client.ComputeService, resourcesDir string, logger *slog.Logger) *ModelService {
	return &ModelService{
		records:      records,
		orchestrator: orch,
		catalog:      cat,
		compute:      compute,
		resourcesDir: resourcesDir,
		logger:       logging.OrDefault(logger),
	}
}

// RunAutoML trains models on a dataset's frame. The dataset needs a schema
// that contains the response column.
func (s *ModelService) RunAutoML(ctx context.Context, projectID string, req *model.RunAutoMLRequest) (*model.Job, error) {
	ds, err := s.records.DataSet(ctx, projectID, req.DataSetID)
	if err != nil {
		return nil, err
	}
	if ds.Schema == nil {
		return nil, apperrors.Validation("dataSetId", "dataset "+ds.ID+" has no schema yet")
	}
	if !slices.Contains(ds.Schema.ColumnNames, req.ResponseColumn) {
		return nil, apperrors.Validation("responseColumn", "unknown column "+req.ResponseColumn)
	}

	spec := &model.AutoMLSpec{
		ProjectName:    projectID,
		TrainingFrame:  store.FrameName(projectID, ds.ID),
		ResponseColumn: req.ResponseColumn,
		MaxModels:      req.MaxModels,
		MaxRuntimeSecs: req.MaxRuntimeSecs,
		ExcludeAlgos:   req.ExcludeAlgos,
		Seed:           req.Seed,
	}
	return s.orchestrator.RunAutoML(ctx, projectID, spec)
}

// Predict scores a frame and stores the result as a PREDICT dataset.
func (s *ModelService) Predict(ctx context.Context, projectID string, req *model.PredictRequest) (*model.Job, error) {
	name := store.CleanFileName(req.Name)
	if name == "" {
		return nil, apperrors.Validation("name", "invalid prediction name")
	}
	return s.orchestrator.Predict(ctx, projectID, req.FrameID, req.ModelID, name)
}

// Leaderboard returns the ranked models of an AutoML build.
func (s *ModelService) Leaderboard(ctx context.Context, projectID, leaderboardID string) (*model.Leaderboard, error) {
	lb, ok, err := s.catalog.Leaderboard(ctx, projectID, leaderboardID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("leaderboard", leaderboardID)
	}
	return lb, nil
}

// Model returns model metadata.
func (s *ModelService) Model(ctx context.Context, projectID, modelID string) (*model.Model, error) {
	m, ok, err := s.catalog.Model(ctx, projectID, modelID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("model", modelID)
	}
	return m, nil
}

// ExportModel exports one model of a leaderboard.
func (s *ModelService) ExportModel(ctx context.Context, projectID, leaderboardID, modelID string) (*model.Job, error) {
	if leaderboardID == "" {
		return nil, apperrors.Validation("leaderboardId", "leaderboard id is required")
	}
	return s.orchestrator.ExportModel(ctx, projectID, leaderboardID, modelID)
}

// ExportAllModels exports every model of a leaderboard.
func (s *ModelService) ExportAllModels(ctx context.Context, projectID, leaderboardID string) (*model.Job, error) {
	return s.orchestrator.ExportAllModels(ctx, projectID, leaderboardID)
}

// DeleteModel removes a model from the compute service.
func (s *ModelService) DeleteModel(ctx context.Context, projectID, modelID string) error {
	if err := s.compute.DeleteModel(ctx, modelID); err != nil {
		if apperrors.IsRemoteNotFound(err) {
			return apperrors.NotFound("model", modelID)
		}
		return err
	}
	s.catalog.InvalidateAll()
	s.logger.Info("model deleted", "project", projectID, "model", modelID)
	return nil
}

// OpenMojo opens the MOJO archive of a model. The caller closes the stream.
func (s *ModelService) OpenMojo(ctx context.Context, projectID, modelID string) (io.ReadCloser, error) {
	rc, err := s.compute.DownloadMojo(ctx, modelID)
	if err != nil {
		if apperrors.IsRemoteNotFound(err) {
			return nil, apperrors.NotFound("model", modelID)
		}
		return nil, err
	}
	s.logger.Debug("mojo opened", "project", projectID, "model", modelID)
	return rc, nil
}

// OpenGenModel opens the genmodel jar that scores the model's MOJO. The
// caller closes the stream.
func (s *ModelService) OpenGenModel(ctx context.Context, projectID, modelID string) (io.ReadCloser, error) {
	if _, err := s.Model(ctx, projectID, modelID); err != nil {
		return nil, err
	}
	rc, err := s.compute.DownloadGenModel(ctx)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("genmodel opened", "project", projectID, "model", modelID)
	return rc, nil
}

// WriteServingBundle writes a zip holding everything needed to serve the
// model: serving/Dockerfile, serving/serving.jar and serving/model.zip.
func (s *ModelService) WriteServingBundle(ctx context.Context, projectID, modelID string, w io.Writer) error {
	dockerfile := filepath.Join(s.resourcesDir, servingDockerfile)
	if _, err := os.Stat(dockerfile); err != nil {
		return apperrors.System("serving bundle", servingDockerfile+" is not found")
	}
	jars, err := filepath.Glob(filepath.Join(s.resourcesDir, servingJarPattern))
	if err != nil || len(jars) == 0 {
		return apperrors.System("serving bundle", "serving jar is not found")
	}
	slices.Sort(jars)

	mojo, err := s.compute.DownloadMojo(ctx, modelID)
	if err != nil {
		if apperrors.IsRemoteNotFound(err) {
			return apperrors.NotFound("model", modelID)
		}
		return err
	}
	defer mojo.Close()

	zw := zip.NewWriter(w)
	if err := addFile(zw, "serving/Dockerfile", dockerfile); err != nil {
		return err
	}
	if err := addFile(zw, "serving/serving.jar", jars[0]); err != nil {
		return err
	}
	entry, err := zw.Create("serving/model.zip")
	if err != nil {
		return apperrors.Internal("serving bundle", err)
	}
	if _, err := io.Copy(entry, mojo); err != nil {
		return apperrors.RemoteAccess("compute.DownloadMojo", 0, "", err)
	}
	if err := zw.Close(); err != nil {
		return apperrors.Internal("serving bundle", err)
	}
	s.logger.Info("serving bundle written", "project", projectID, "model", modelID, "jar", filepath.Base(jars[0]))
	return nil
}

func addFile(zw *zip.Writer, name, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return apperrors.System("serving bundle", err.Error())
	}
	defer f.Close()
	entry, err := zw.Create(name)
	if err != nil {
		return apperrors.Internal("serving bundle", err)
	}
	if _, err := io.Copy(entry, f); err != nil {
		return apperrors.Internal("serving bundle", err)
	}
	return nil
}
