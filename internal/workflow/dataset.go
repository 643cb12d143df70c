package workflow

import (
	"context"
	"errors"

	"github.com/automlhub/api/internal/apperrors"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/store"
	"github.com/automlhub/api/internal/worker"
)

type dataSetPayload struct {
	DataSetID string `json:"dataSetId"`
}

// LoadSchema imports a dataset's file, derives its parse plan and stores it
// on the dataset. The placeholder is removed once the schema is stored.
func (o *Orchestrator) LoadSchema(ctx context.Context, projectID string, ds *model.DataSet) (*model.Job, error) {
	return o.start(ctx, projectID, worker.TaskTypeSchema, model.DescParseSchema, seedSchema, ds.Name,
		dataSetPayload{DataSetID: ds.ID})
}

// CreateFrame parses a dataset into its frame with the stored schema. The
// placeholder is replaced by the parse job of the compute service, so the
// returned key is only valid until the parse has started.
func (o *Orchestrator) CreateFrame(ctx context.Context, projectID string, ds *model.DataSet) (*model.Job, error) {
	if ds.Schema == nil {
		return nil, apperrors.Validation("dataSetId", "dataset "+ds.ID+" has no schema yet")
	}
	return o.start(ctx, projectID, worker.TaskTypeFrame, model.DescParseFrame, seedFrame, ds.Name,
		dataSetPayload{DataSetID: ds.ID})
}

func (o *Orchestrator) importFiles(ctx context.Context, ds *model.DataSet) ([]string, error) {
	res, err := o.compute.ImportFiles(ctx, o.records.Paths().URI(ds.Path))
	if err != nil {
		return nil, err
	}
	if len(res.DestinationFrames) == 0 {
		return nil, apperrors.RemoteAccess("compute.ImportFiles", 0, "", errors.New("no frames imported from "+ds.Path))
	}
	return res.DestinationFrames, nil
}

func (o *Orchestrator) planSchema(ctx context.Context, task *worker.Task, r *Run) ([]Step, error) {
	var p dataSetPayload
	if err := task.Decode(&p); err != nil {
		return nil, err
	}
	ds, err := o.records.DataSet(ctx, task.ProjectID, p.DataSetID)
	if err != nil {
		return nil, err
	}
	r.RemoveWhenDone()

	var frames []string
	return []Step{
		{Name: "import", Progress: 0.4, Run: func(ctx context.Context, r *Run) error {
			imported, err := o.importFiles(ctx, ds)
			if err != nil {
				return err
			}
			frames = imported
			return nil
		}},
		{Name: "parse setup", Progress: 0.7, Run: func(ctx context.Context, r *Run) error {
			setup, err := o.compute.ParseSetup(ctx, frames)
			if err != nil {
				return err
			}
			setup.DestinationFrame = store.FrameName(r.ProjectID, ds.ID)
			ds.Schema = setup
			return o.records.PutDataSet(ctx, r.ProjectID, ds)
		}},
		{Name: "delete scratch frames", Progress: 0.9, Run: func(ctx context.Context, r *Run) error {
			for _, f := range frames {
				if err := o.compute.DeleteFrame(ctx, f); err != nil {
					return err
				}
			}
			return nil
		}},
	}, nil
}

func (o *Orchestrator) planFrame(ctx context.Context, task *worker.Task, r *Run) ([]Step, error) {
	var p dataSetPayload
	if err := task.Decode(&p); err != nil {
		return nil, err
	}
	ds, err := o.records.DataSet(ctx, task.ProjectID, p.DataSetID)
	if err != nil {
		return nil, err
	}
	if ds.Schema == nil {
		return nil, apperrors.Validation("dataSetId", "dataset "+ds.ID+" has no schema yet")
	}

	return []Step{
		{Name: "import", Progress: 0.4, Run: func(ctx context.Context, r *Run) error {
			_, err := o.importFiles(ctx, ds)
			return err
		}},
		{Name: "parse", Run: func(ctx context.Context, r *Run) error {
			res, err := o.compute.Parse(ctx, ds.Schema)
			if err != nil {
				return err
			}
			o.logger.Info("frame parse started", "project", r.ProjectID, "frame", res.DestinationFrame.Name)
			return r.Replace(ctx, res.Job)
		}},
	}, nil
}
