package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/middleware"
	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/service"
	"github.com/automlhub/api/pkg/response"
)

type ProjectHandler struct {
	service   *service.ProjectService
	validator *validator.Validate
}

func NewProjectHandler(svc *service.ProjectService, v *validator.Validate) *ProjectHandler {
	return &ProjectHandler{
		service:   svc,
		validator: v,
	}
}

// RequireProject rejects requests for projects that do not exist or that the
// caller's token is not scoped to.
func (h *ProjectHandler) RequireProject(c *fiber.Ctx) error {
	projectID := c.Params("projectId")
	if projectID == "" {
		return response.ValidationError(c, "Project ID is required", nil)
	}
	if !middleware.CanAccessProject(c, projectID) {
		return response.Forbidden(c, "token is not scoped to project "+projectID)
	}
	if !h.service.ProjectExists(c.UserContext(), projectID) {
		return response.NotFound(c, "project "+projectID+" not found")
	}
	return c.Next()
}

// List handles GET /api/projects
// @Summary      List projects
// @Tags         Projects
// @Produce      json
// @Success      200 {array} model.Project
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects [get]
func (h *ProjectHandler) List(c *fiber.Ctx) error {
	projects, err := h.service.ListProjects(c.UserContext())
	if err != nil {
		return response.FromError(c, err)
	}
	visible := make([]*model.Project, 0, len(projects))
	for _, p := range projects {
		if middleware.CanAccessProject(c, p.ID) {
			visible = append(visible, p)
		}
	}
	return response.OK(c, visible)
}

// Create handles POST /api/projects
// @Summary      Create project
// @Tags         Projects
// @Accept       json
// @Produce      json
// @Param        request body model.CreateProjectRequest true "Project"
// @Success      201 {object} model.Project
// @Failure      400 {object} response.ErrorResponse
// @Failure      401 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects [post]
func (h *ProjectHandler) Create(c *fiber.Ctx) error {
	var req model.CreateProjectRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	project, err := h.service.CreateProject(c.UserContext(), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Created(c, project)
}

// Get handles GET /api/projects/:projectId
func (h *ProjectHandler) Get(c *fiber.Ctx) error {
	project, err := h.service.GetProject(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, project)
}

// Delete handles DELETE /api/projects/:projectId
func (h *ProjectHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteProject(c.UserContext(), c.Params("projectId")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// RenewSession handles POST /api/projects/:projectId/session/renew
// @Summary      Renew compute session
// @Description  Drop cached reads, prune finished AutoML jobs and delete the project's frames
// @Tags         Projects
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Success      202 {object} map[string]interface{}
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/session/renew [post]
func (h *ProjectHandler) RenewSession(c *fiber.Ctx) error {
	cleanup, err := h.service.RenewSession(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, removedJobs(cleanup.Removed))
}

func removedJobs(jobs []*model.Job) fiber.Map {
	if jobs == nil {
		jobs = []*model.Job{}
	}
	return fiber.Map{"removed": jobs}
}
