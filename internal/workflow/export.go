package workflow

import (
	"context"
	"fmt"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/worker"
)

type exportModelPayload struct {
	LeaderboardID string `json:"leaderboardId"`
	ModelID       string `json:"modelId"`
}

type exportModelsPayload struct {
	LeaderboardID string   `json:"leaderboardId"`
	ModelIDs      []string `json:"modelIds"`
}

// ExportModel writes a JSON snapshot of a model's metadata and has the
// compute service export the model next to it. An unknown model is NotFound.
func (o *Orchestrator) ExportModel(ctx context.Context, projectID, leaderboardID, modelID string) (*model.Job, error) {
	if _, ok, err := o.catalog.Model(ctx, projectID, modelID); err != nil {
		return nil, err
	} else if !ok {
		return nil, apperrors.NotFound("model", modelID)
	}
	return o.start(ctx, projectID, worker.TaskTypeExportModel, model.DescExportModel, seedExportModel, modelID,
		exportModelPayload{LeaderboardID: leaderboardID, ModelID: modelID})
}

// ExportAllModels exports every model of a leaderboard under one job. The
// job fails if any export failed, after all of them have been attempted.
func (o *Orchestrator) ExportAllModels(ctx context.Context, projectID, leaderboardID string) (*model.Job, error) {
	lb, ok, err := o.catalog.Leaderboard(ctx, projectID, leaderboardID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.NotFound("leaderboard", leaderboardID)
	}
	return o.start(ctx, projectID, worker.TaskTypeExportModels, model.DescExportAllModels, seedExportAll, leaderboardID,
		exportModelsPayload{LeaderboardID: leaderboardID, ModelIDs: lb.ModelIDs()})
}

// exportOne snapshots and exports one model.
func (o *Orchestrator) exportOne(ctx context.Context, projectID, leaderboardID, modelID string) error {
	m, ok, err := o.catalog.Model(ctx, projectID, modelID)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotFound("model", modelID)
	}
	if err := o.records.PutModelSnapshot(ctx, projectID, leaderboardID, m); err != nil {
		return err
	}
	paths := o.records.Paths()
	return o.compute.ExportModel(ctx, modelID, paths.URI(paths.ModelArtifactFile(projectID, leaderboardID, modelID)))
}

func (o *Orchestrator) planExportModel(ctx context.Context, task *worker.Task, r *Run) ([]Step, error) {
	var p exportModelPayload
	if err := task.Decode(&p); err != nil {
		return nil, err
	}

	return []Step{
		{Name: "export model", Run: func(ctx context.Context, r *Run) error {
			return o.exportOne(ctx, r.ProjectID, p.LeaderboardID, p.ModelID)
		}},
	}, nil
}

func (o *Orchestrator) planExportModels(ctx context.Context, task *worker.Task, r *Run) ([]Step, error) {
	var p exportModelsPayload
	if err := task.Decode(&p); err != nil {
		return nil, err
	}

	total := len(p.ModelIDs)
	exported := 0
	steps := make([]Step, 0, total+1)
	for _, modelID := range p.ModelIDs {
		steps = append(steps, Step{Name: "export " + modelID, Run: func(ctx context.Context, r *Run) error {
			if err := o.exportOne(ctx, r.ProjectID, p.LeaderboardID, modelID); err != nil {
				o.logger.Warn("failed to export model", "project", r.ProjectID, "model", modelID, "error", err)
				return nil
			}
			exported++
			r.Advance(ctx, float64(exported)/float64(total), "exported "+modelID)
			return nil
		}})
	}
	steps = append(steps, Step{Name: "verify exports", Run: func(ctx context.Context, r *Run) error {
		if exported < total {
			return apperrors.RemoteAccess("compute.ExportModel", 0, "", fmt.Errorf("failed to export %d of %d models", total-exported, total))
		}
		return nil
	}})
	return steps, nil
}
