package handler

import (
	"bytes"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/service"
	"github.com/automlhub/api/pkg/response"
)

type ModelHandler struct {
	service   *service.ModelService
	validator *validator.Validate
}

func NewModelHandler(svc *service.ModelService, v *validator.Validate) *ModelHandler {
	return &ModelHandler{
		service:   svc,
		validator: v,
	}
}

// RunAutoML handles POST /api/projects/:projectId/automl
// @Summary      Start AutoML
// @Description  Train and rank models on a dataset's frame. The returned job is a placeholder that is replaced by the build job under a new key
// @Tags         Models
// @Accept       json
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        request body model.RunAutoMLRequest true "AutoML request"
// @Success      202 {object} model.JobAccepted
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/automl [post]
func (h *ModelHandler) RunAutoML(c *fiber.Ctx) error {
	var req model.RunAutoMLRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	job, err := h.service.RunAutoML(c.UserContext(), c.Params("projectId"), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, model.JobAccepted{Job: job})
}

// Predict handles POST /api/projects/:projectId/predict
// @Summary      Score a frame
// @Description  Run a model over a frame and store the predictions as a dataset
// @Tags         Models
// @Accept       json
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        request body model.PredictRequest true "Predict request"
// @Success      202 {object} model.JobAccepted
// @Failure      400 {object} response.ErrorResponse
// @Failure      429 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/predict [post]
func (h *ModelHandler) Predict(c *fiber.Ctx) error {
	var req model.PredictRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	job, err := h.service.Predict(c.UserContext(), c.Params("projectId"), &req)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, model.JobAccepted{Job: job})
}

// Leaderboard handles GET /api/projects/:projectId/leaderboards/:leaderboardId
func (h *ModelHandler) Leaderboard(c *fiber.Ctx) error {
	lb, err := h.service.Leaderboard(c.UserContext(), c.Params("projectId"), param(c, "leaderboardId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, lb)
}

// ExportAll handles POST /api/projects/:projectId/leaderboards/:leaderboardId/export
func (h *ModelHandler) ExportAll(c *fiber.Ctx) error {
	job, err := h.service.ExportAllModels(c.UserContext(), c.Params("projectId"), param(c, "leaderboardId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, model.JobAccepted{Job: job})
}

// Get handles GET /api/projects/:projectId/models/:modelId
func (h *ModelHandler) Get(c *fiber.Ctx) error {
	m, err := h.service.Model(c.UserContext(), c.Params("projectId"), param(c, "modelId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, m)
}

// Export handles POST /api/projects/:projectId/models/:modelId/export?leaderboardId=
func (h *ModelHandler) Export(c *fiber.Ctx) error {
	job, err := h.service.ExportModel(c.UserContext(), c.Params("projectId"), c.Query("leaderboardId"), param(c, "modelId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, model.JobAccepted{Job: job})
}

// Delete handles DELETE /api/projects/:projectId/models/:modelId
func (h *ModelHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteModel(c.UserContext(), c.Params("projectId"), param(c, "modelId")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// Mojo handles GET /api/projects/:projectId/models/:modelId/mojo
// @Summary      Download MOJO
// @Tags         Models
// @Produce      application/zip
// @Param        projectId path string true "Project ID"
// @Param        modelId path string true "Model ID"
// @Success      200 {file} file
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/models/{modelId}/mojo [get]
func (h *ModelHandler) Mojo(c *fiber.Ctx) error {
	modelID := param(c, "modelId")
	rc, err := h.service.OpenMojo(c.UserContext(), c.Params("projectId"), modelID)
	if err != nil {
		return response.FromError(c, err)
	}
	return sendAttachment(c, rc, "application/zip", modelID+".zip")
}

// GenModel handles GET /api/projects/:projectId/models/:modelId/genmodel
func (h *ModelHandler) GenModel(c *fiber.Ctx) error {
	rc, err := h.service.OpenGenModel(c.UserContext(), c.Params("projectId"), param(c, "modelId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return sendAttachment(c, rc, "application/java-archive", "h2o-genmodel.jar")
}

// Serving handles GET /api/projects/:projectId/models/:modelId/serving
// @Summary      Download serving bundle
// @Description  Zip with a Dockerfile, the serving runtime and the model's MOJO
// @Tags         Models
// @Produce      application/zip
// @Param        projectId path string true "Project ID"
// @Param        modelId path string true "Model ID"
// @Success      200 {file} file
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/models/{modelId}/serving [get]
func (h *ModelHandler) Serving(c *fiber.Ctx) error {
	modelID := param(c, "modelId")

	// Buffered so a failure can still be reported as JSON.
	var buf bytes.Buffer
	if err := h.service.WriteServingBundle(c.UserContext(), c.Params("projectId"), modelID, &buf); err != nil {
		return response.FromError(c, err)
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s-serving.zip"`, modelID))
	return c.Send(buf.Bytes())
}
