package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/service"
	"github.com/automlhub/api/pkg/response"
)

type DataSetHandler struct {
	service   *service.DataSetService
	validator *validator.Validate
}

func NewDataSetHandler(svc *service.DataSetService, v *validator.Validate) *DataSetHandler {
	return &DataSetHandler{
		service:   svc,
		validator: v,
	}
}

// List handles GET /api/projects/:projectId/datasets
func (h *DataSetHandler) List(c *fiber.Ctx) error {
	dataSets, err := h.service.ListDataSets(c.UserContext(), c.Params("projectId"))
	if err != nil {
		return response.FromError(c, err)
	}
	if dataSets == nil {
		dataSets = []*model.DataSet{}
	}
	return response.OK(c, dataSets)
}

// Upload handles POST /api/projects/:projectId/datasets
// @Summary      Upload dataset
// @Description  Store a CSV file in the project and start loading its schema
// @Tags         DataSets
// @Accept       multipart/form-data
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        file formData file true "CSV file"
// @Success      202 {object} map[string]interface{}
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Failure      500 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/datasets [post]
func (h *DataSetHandler) Upload(c *fiber.Ctx) error {
	file, err := c.FormFile("file")
	if err != nil {
		return response.ValidationError(c, "File is required", nil)
	}

	f, err := file.Open()
	if err != nil {
		return response.ServiceError(c, "Failed to open file")
	}
	defer f.Close()

	dataSet, job, err := h.service.AddDataSet(c.UserContext(), c.Params("projectId"), file.Filename, f)
	if err != nil {
		return response.FromError(c, err)
	}

	return response.Accepted(c, fiber.Map{
		"dataSet": dataSet,
		"job":     job,
	})
}

// Get handles GET /api/projects/:projectId/datasets/:dataSetId
func (h *DataSetHandler) Get(c *fiber.Ctx) error {
	dataSet, err := h.service.GetDataSet(c.UserContext(), c.Params("projectId"), c.Params("dataSetId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dataSet)
}

// File handles GET /api/projects/:projectId/datasets/:dataSetId/file
// @Summary      Download dataset
// @Tags         DataSets
// @Produce      text/csv
// @Param        projectId path string true "Project ID"
// @Param        dataSetId path string true "DataSet ID"
// @Success      200 {file} file
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/datasets/{dataSetId}/file [get]
func (h *DataSetHandler) File(c *fiber.Ctx) error {
	dataSet, rc, err := h.service.OpenDataSet(c.UserContext(), c.Params("projectId"), c.Params("dataSetId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return sendAttachment(c, rc, "text/csv", dataSet.Name)
}

// Delete handles DELETE /api/projects/:projectId/datasets/:dataSetId
func (h *DataSetHandler) Delete(c *fiber.Ctx) error {
	if err := h.service.DeleteDataSet(c.UserContext(), c.Params("projectId"), c.Params("dataSetId")); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}

// CreateFrame handles POST /api/projects/:projectId/datasets/:dataSetId/frame
// @Summary      Parse dataset into a frame
// @Description  The returned job is a placeholder that is replaced by the parse job under a new key
// @Tags         DataSets
// @Produce      json
// @Param        projectId path string true "Project ID"
// @Param        dataSetId path string true "DataSet ID"
// @Success      202 {object} model.JobAccepted
// @Failure      400 {object} response.ErrorResponse
// @Failure      404 {object} response.ErrorResponse
// @Security     BearerAuth
// @Router       /api/projects/{projectId}/datasets/{dataSetId}/frame [post]
func (h *DataSetHandler) CreateFrame(c *fiber.Ctx) error {
	job, err := h.service.CreateFrame(c.UserContext(), c.Params("projectId"), c.Params("dataSetId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.Accepted(c, model.JobAccepted{Job: job})
}

// Filter handles POST /api/projects/:projectId/datasets/:dataSetId/filter
func (h *DataSetHandler) Filter(c *fiber.Ctx) error {
	var req model.FilterColumnsRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	projectID, dataSetID := c.Params("projectId"), c.Params("dataSetId")
	if err := h.service.FilterColumns(c.UserContext(), projectID, dataSetID, req.Columns); err != nil {
		return response.FromError(c, err)
	}

	dataSet, err := h.service.GetDataSet(c.UserContext(), projectID, dataSetID)
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, dataSet)
}
