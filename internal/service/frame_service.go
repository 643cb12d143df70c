package service

import (
	"context"
	"log/slog"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/catalog"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
)

// FrameService reads and edits parsed frames.
type FrameService struct {
	catalog *catalog.Catalog
	compute client.ComputeService
	logger  *slog.Logger
}

// NewFrameService creates a frame service.
func NewFrameService(cat *catalog.Catalog, compute client.ComputeService, logger *slog.Logger) *FrameService {
	return &FrameService{
		catalog: cat,
		compute: compute,
		logger:  logging.OrDefault(logger),
	}
}

// ColumnSummaries returns per-column statistics of a frame.
func (s *FrameService) ColumnSummaries(ctx context.Context, projectID, frameID string) (*model.Frame, error) {
	f, ok, err := s.catalog.ColumnSummaries(ctx, projectID, frameID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("frame", frameID)
	}
	return f, nil
}

// FrameData returns a window of rows of a frame.
func (s *FrameService) FrameData(ctx context.Context, frameID string, offset, count int64) (*model.Frame, error) {
	if offset < 0 || count < 0 {
		return nil, apperrors.Validation("offset", "offset and count must not be negative")
	}
	f, ok, err := s.catalog.FrameData(ctx, frameID, offset, count)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("frame", frameID)
	}
	return f, nil
}

// FrameColumn returns a window of one column of a frame.
func (s *FrameService) FrameColumn(ctx context.Context, frameID, column string, offset, count int64) (*model.Column, error) {
	if column == "" {
		return nil, apperrors.Validation("column", "column is required")
	}
	if offset < 0 || count < 0 {
		return nil, apperrors.Validation("offset", "offset and count must not be negative")
	}
	col, ok, err := s.catalog.FrameColumn(ctx, frameID, column, offset, count)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("column", frameID+"/"+column)
	}
	return col, nil
}

// ChangeColumnType converts the column at index for rows from..to. An
// unknown type is ignored.
func (s *FrameService) ChangeColumnType(ctx context.Context, projectID, frameID string, index int, columnType string, from, to int64) error {
	t := ConvertColumnType(columnType)
	if t == "" {
		s.logger.Debug("unknown column type", "project", projectID, "frame", frameID, "index", index, "type", columnType)
		return nil
	}
	if err := s.compute.ChangeColumnType(ctx, frameID, index, t, from, to); err != nil {
		if apperrors.IsRemoteNotFound(err) {
			return apperrors.NotFound("frame", frameID)
		}
		return err
	}
	s.catalog.InvalidateAll()
	return nil
}

// ConvertColumnType maps a column type alias to the name the compute service
// accepts. Unknown aliases map to "".
func ConvertColumnType(columnType string) string {
	switch columnType {
	case "String", "string", model.ColumnTypeCharacter:
		return model.ColumnTypeCharacter
	case "Enum", "enum", model.ColumnTypeFactor:
		return model.ColumnTypeFactor
	case "Numeric", "real", model.ColumnTypeNumeric:
		return model.ColumnTypeNumeric
	default:
		return ""
	}
}
