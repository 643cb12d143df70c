package workflow

import (
	"context"

	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/worker"
)

type autoMLPayload struct {
	Spec model.AutoMLSpec `json:"spec"`
}

// RunAutoML starts an AutoML build. Like CreateFrame, the placeholder is
// replaced by the build job of the compute service, whose destination is the
// leaderboard "<projectName>@@<responseColumn>".
func (o *Orchestrator) RunAutoML(ctx context.Context, projectID string, spec *model.AutoMLSpec) (*model.Job, error) {
	return o.start(ctx, projectID, worker.TaskTypeAutoML, model.DescAutoMLStarting, seedAutoML, spec.LeaderboardID(),
		autoMLPayload{Spec: *spec})
}

func (o *Orchestrator) planAutoML(ctx context.Context, task *worker.Task, r *Run) ([]Step, error) {
	var p autoMLPayload
	if err := task.Decode(&p); err != nil {
		return nil, err
	}

	return []Step{
		{Name: "run automl", Run: func(ctx context.Context, r *Run) error {
			res, err := o.compute.RunAutoML(ctx, &p.Spec)
			if err != nil {
				return err
			}
			o.logger.Info("automl build started", "project", r.ProjectID, "leaderboard", p.Spec.LeaderboardID())
			return r.Replace(ctx, res.Job)
		}},
	}, nil
}
