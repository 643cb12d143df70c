package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/ledger"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/pkg/response"
)

// JobHandler exposes a project's job ledger.
type JobHandler struct {
	ledger *ledger.Ledger
}

func NewJobHandler(l *ledger.Ledger) *JobHandler {
	return &JobHandler{ledger: l}
}

// List handles GET /api/projects/:projectId/jobs
// @Summary      List jobs
// @Description  With refresh=true, running jobs are reconciled with the compute service first
// @Tags         Jobs
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        refresh query bool false "Reconcile running jobs"
// @Success      200 {array} model.Job
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/jobs [get]
func (h *JobHandler) List(c *fiber.Ctx) error {
	jobs, err := h.ledger.List(c.UserContext(), c.Params("projectId"), c.QueryBool("refresh"))
	if err != nil {
		return response.FromError(c, err)
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return response.OK(c, jobs)
}

// Delete handles DELETE /api/projects/:projectId/jobs/:jobId
func (h *JobHandler) Delete(c *fiber.Ctx) error {
	if err := h.ledger.Delete(c.UserContext(), c.Params("projectId"), param(c, "jobId")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// DeleteAll handles DELETE /api/projects/:projectId/jobs
// Finished AutoML jobs are removed; their models are deleted in the background.
func (h *JobHandler) DeleteAll(c *fiber.Ctx) error {
	cleanup, err := h.ledger.DeleteAllJobs(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, removedJobs(cleanup.Removed))
}
