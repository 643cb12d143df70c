package workflow

import (
	"context"

	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/worker"
)

type predictPayload struct {
	FrameID string `json:"frameId"`
	ModelID string `json:"modelId"`
	Name    string `json:"name"`
}

// Predict scores a frame with a model and exports the predictions, bound to
// the scored frame, as data/<name>.csv. The result is recorded as a
// PREDICT dataset.
func (o *Orchestrator) Predict(ctx context.Context, projectID, frameID, modelID, name string) (*model.Job, error) {
	return o.start(ctx, projectID, worker.TaskTypePredict, model.DescExportPredict, seedPredict, name,
		predictPayload{FrameID: frameID, ModelID: modelID, Name: name})
}

func (o *Orchestrator) planPredict(ctx context.Context, task *worker.Task, r *Run) ([]Step, error) {
	var p predictPayload
	if err := task.Decode(&p); err != nil {
		return nil, err
	}
	paths := o.records.Paths()
	csvKey := paths.PredictFile(task.ProjectID, p.Name)

	var predictions, combined string
	return []Step{
		{Name: "predict", Progress: 0.5, Run: func(ctx context.Context, r *Run) error {
			res, err := o.compute.Predict(ctx, p.ModelID, p.FrameID)
			if err != nil {
				return err
			}
			predictions = res.PredictionsFrame.Name
			r.OnExit(func(ctx context.Context) { o.deleteFrameQuietly(ctx, predictions) })
			return nil
		}},
		{Name: "bind frames", Progress: 0.75, Run: func(ctx context.Context, r *Run) error {
			dest := "combined-" + predictions
			if err := o.compute.BindFrames(ctx, dest, []string{predictions, p.FrameID}); err != nil {
				return err
			}
			combined = dest
			r.OnExit(func(ctx context.Context) { o.deleteFrameQuietly(ctx, combined) })
			return nil
		}},
		{Name: "export frame", Run: func(ctx context.Context, r *Run) error {
			return o.compute.ExportFrame(ctx, combined, paths.URI(csvKey), true)
		}},
		{Name: "store dataset", Run: func(ctx context.Context, r *Run) error {
			ds := model.NewDataSet(p.Name+".csv", o.now())
			ds.Type = model.DataSetTypePredict
			ds.Path = csvKey
			return o.records.PutDataSet(ctx, r.ProjectID, ds)
		}},
	}, nil
}
