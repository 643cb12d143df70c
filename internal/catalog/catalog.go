// Package catalog serves frequently polled compute service reads through the
// response cache.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/cache"
	"github.com/automlhub/api/internal/client"
	"github.com/automlhub/api/internal/logging"
	"github.com/automlhub/api/internal/model"
)

// Catalog reads leaderboards, models and frames, caching each response.
type Catalog struct {
	compute client.ComputeService
	cache   *cache.Cache
	logger  *slog.Logger
}

// New creates a catalog.
func New(compute client.ComputeService, c *cache.Cache, logger *slog.Logger) *Catalog {
	return &Catalog{compute: compute, cache: c, logger: logging.OrDefault(logger)}
}

// InvalidateAll drops every cached response.
func (c *Catalog) InvalidateAll() {
	c.cache.InvalidateAll()
	c.logger.Debug("catalog cache invalidated")
}

// ColumnSummaries returns the column summaries of a frame. ok is false when
// the frame does not exist.
func (c *Catalog) ColumnSummaries(ctx context.Context, projectID, frameID string) (*model.Frame, bool, error) {
	key := fmt.Sprintf("summary@%s,%s", projectID, frameID)
	return cache.GetOrLoad(ctx, c.cache, key, func(ctx context.Context) (*model.Frame, error) {
		return absentOn404(c.compute.GetColumnSummaries(ctx, frameID))
	})
}

// Leaderboard returns a leaderboard by id.
func (c *Catalog) Leaderboard(ctx context.Context, projectID, leaderboardID string) (*model.Leaderboard, bool, error) {
	key := fmt.Sprintf("leaderboard@%s,%s", projectID, leaderboardID)
	return cache.GetOrLoad(ctx, c.cache, key, func(ctx context.Context) (*model.Leaderboard, error) {
		return absentOn404(c.compute.GetLeaderboard(ctx, leaderboardID))
	})
}

// Model returns model metadata. A blank id is absent without a remote call.
func (c *Catalog) Model(ctx context.Context, projectID, modelID string) (*model.Model, bool, error) {
	if strings.TrimSpace(modelID) == "" {
		return nil, false, nil
	}
	key := fmt.Sprintf("model@%s,%s", projectID, modelID)
	return cache.GetOrLoad(ctx, c.cache, key, func(ctx context.Context) (*model.Model, error) {
		return absentOn404(c.compute.GetModel(ctx, modelID))
	})
}

// FrameData returns a window of rows of a frame.
func (c *Catalog) FrameData(ctx context.Context, frameID string, offset, count int64) (*model.Frame, bool, error) {
	key := fmt.Sprintf("frame@%s,%d,%d", frameID, offset, count)
	return cache.GetOrLoad(ctx, c.cache, key, func(ctx context.Context) (*model.Frame, error) {
		return absentOn404(c.compute.GetFrameData(ctx, model.FrameQuery{FrameID: frameID, RowOffset: offset, RowCount: count}))
	})
}

// FrameColumn returns a window of one column of a frame. ok is false when
// the frame or the column does not exist.
func (c *Catalog) FrameColumn(ctx context.Context, frameID, column string, offset, count int64) (*model.Column, bool, error) {
	key := fmt.Sprintf("column@%s,%s,%d,%d", frameID, column, offset, count)
	return cache.GetOrLoad(ctx, c.cache, key, func(ctx context.Context) (*model.Column, error) {
		f, err := absentOn404(c.compute.GetFrameData(ctx, model.FrameQuery{FrameID: frameID, Column: column, RowOffset: offset, RowCount: count}))
		if err != nil {
			return nil, err
		}
		if len(f.Columns) == 0 {
			return nil, apperrors.NotFound("column", frameID+"/"+column)
		}
		col := f.Columns[0]
		return &col, nil
	})
}

// absentOn404 turns a remote 404 into the not-found signal the cache treats as absent.
func absentOn404[V any](v V, err error) (V, error) {
	if err != nil && apperrors.IsRemoteNotFound(err) {
		var zero V
		return zero, apperrors.NotFound("remote object", err.Error())
	}
	return v, err
}
