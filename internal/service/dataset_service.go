package service

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/workflow"
)

const contentTypeCSV = "text/csv"

// DataSetService manages the uploaded files of a project.
type DataSetService struct {
	records      *store.RecordStore
	orchestrator *workflow.Orchestrator
	compute      client.ComputeService
	fetcher      *store.Fetcher
	logger       *slog.Logger
	now          func() time.Time
}

// NewDataSetService creates a dataset service.
func NewDataSetService(records *store.RecordStore, orch *workflow.Orchestrator, compute client.ComputeService, fetcher *store.Fetcher, logger *slog.Logger) *DataSetService {
	return &DataSetService{
		records:      records,
		orchestrator: orch,
		compute:      compute,
		fetcher:      fetcher,
		logger:       logging.OrDefault(logger),
		now:          time.Now,
	}
}

// ListDataSets returns the datasets of a project.
func (s *DataSetService) ListDataSets(ctx context.Context, projectID string) ([]*model.DataSet, error) {
	return s.records.DataSets(ctx, projectID)
}

// GetDataSet reads one dataset.
func (s *DataSetService) GetDataSet(ctx context.Context, projectID, dataSetID string) (*model.DataSet, error) {
	return s.records.DataSet(ctx, projectID, dataSetID)
}

// FrameName is the frame a dataset is parsed into.
func (s *DataSetService) FrameName(projectID, dataSetID string) string {
	return store.FrameName(projectID, dataSetID)
}

// AddDataSet stores an uploaded file, records it as a dataset and starts
// loading its schema. The dataset is returned even when the workflow could
// not be dispatched.
func (s *DataSetService) AddDataSet(ctx context.Context, projectID, fileName string, body io.Reader) (*model.DataSet, *model.Job, error) {
	name := store.CleanFileName(fileName)
	if name == "" {
		return nil, nil, apperrors.Validation("file", "invalid file name")
	}
	if !s.records.ProjectExists(ctx, projectID) {
		return nil, nil, apperrors.NotFound("project", projectID)
	}

	key := s.records.Paths().DataFile(projectID, name)
	if err := s.records.Objects().Put(ctx, key, body, contentTypeCSV); err != nil {
		return nil, nil, err
	}

	ds := model.NewDataSet(name, s.now())
	ds.Path = key
	if err := s.records.PutDataSet(ctx, projectID, ds); err != nil {
		return nil, nil, err
	}
	s.logger.Info("dataset added", "project", projectID, "dataset", ds.ID, "name", name)

	job, err := s.orchestrator.LoadSchema(ctx, projectID, ds)
	return ds, job, err
}

// OpenDataSet opens the stored file of a dataset. The caller closes the stream.
func (s *DataSetService) OpenDataSet(ctx context.Context, projectID, dataSetID string) (*model.DataSet, io.ReadCloser, error) {
	ds, err := s.records.DataSet(ctx, projectID, dataSetID)
	if err != nil {
		return nil, nil, err
	}
	key := ds.Path
	if key == "" {
		key = s.records.Paths().DataFile(projectID, ds.Name)
	}
	rc, err := s.records.Objects().Get(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	s.logger.Debug("dataset file opened", "project", projectID, "dataset", ds.ID, "key", key)
	return ds, rc, nil
}

// DeleteDataSet removes the dataset's parsed frame, data file and record.
// Frame deletion is best effort.
func (s *DataSetService) DeleteDataSet(ctx context.Context, projectID, dataSetID string) error {
	ds, err := s.records.DataSet(ctx, projectID, dataSetID)
	if err != nil {
		return err
	}

	frameID := store.FrameName(projectID, ds.ID)
	if err := s.compute.DeleteFrame(ctx, frameID); err != nil && !apperrors.IsRemoteNotFound(err) {
		s.logger.Warn("failed to delete frame", "project", projectID, "frame", frameID, "error", err)
	}

	keys := []string{s.records.Paths().DataSetFile(projectID, ds.ID)}
	if ds.Path != "" {
		keys = append(keys, ds.Path)
	}
	if err := s.records.Objects().DeleteBatch(ctx, keys); err != nil {
		return err
	}
	s.logger.Info("dataset deleted", "project", projectID, "dataset", ds.ID)
	return nil
}

// CreateFrame parses a dataset into its frame.
func (s *DataSetService) CreateFrame(ctx context.Context, projectID, dataSetID string) (*model.Job, error) {
	ds, err := s.records.DataSet(ctx, projectID, dataSetID)
	if err != nil {
		return nil, err
	}
	return s.orchestrator.CreateFrame(ctx, projectID, ds)
}

// FilterColumns rewrites the dataset's file with only the mapped columns.
// columns maps a source column name to its name in the output; columns keep
// their source order and short rows are padded with empty values. When no
// header matches, the file is left alone.
func (s *DataSetService) FilterColumns(ctx context.Context, projectID, dataSetID string, columns map[string]string) error {
	ds, err := s.records.DataSet(ctx, projectID, dataSetID)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return apperrors.Validation("columns", "at least one column is required")
	}

	rc, err := s.fetcher.Fetch(ctx, ds.Path)
	if err != nil {
		return err
	}
	defer rc.Close()

	reader := csv.NewReader(rc)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		s.logger.Debug("empty dataset file", "project", projectID, "dataset", ds.ID)
		return nil
	}
	if err != nil {
		return apperrors.Storage("read csv", ds.Path, err)
	}

	proj := newProjection(header, columns)
	if len(proj.indices) == 0 {
		s.logger.Debug("no column matched", "project", projectID, "dataset", ds.ID, "columns", columns)
		return nil
	}

	objects := s.records.Objects()
	tmpKey := ds.Path + ".tmp"
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(proj.copy(reader, pw))
	}()
	if err := objects.Put(ctx, tmpKey, pr, contentTypeCSV); err != nil {
		pr.CloseWithError(err)
		return err
	}

	s.logger.Debug("replacing dataset file", "from", tmpKey, "to", ds.Path)
	if err := objects.Copy(ctx, tmpKey, ds.Path); err != nil {
		return err
	}
	if err := objects.Delete(ctx, tmpKey); err != nil {
		return err
	}
	s.logger.Info("dataset columns filtered", "project", projectID, "dataset", ds.ID, "columns", len(proj.indices))
	return nil
}

// projection selects and renames CSV columns.
type projection struct {
	indices []int
	names   []string
}

func newProjection(header []string, columns map[string]string) *projection {
	p := &projection{}
	for i, name := range header {
		if out, ok := columns[name]; ok {
			p.indices = append(p.indices, i)
			p.names = append(p.names, out)
		}
	}
	return p
}

// copy writes the renamed header and the projected rows of r to w.
func (p *projection) copy(r *csv.Reader, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(p.names); err != nil {
		return err
	}
	row := make([]string, len(p.indices))
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		for i, idx := range p.indices {
			row[i] = ""
			if idx < len(record) {
				row[i] = record[idx]
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
