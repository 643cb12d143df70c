package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/automlhub/api/internal/model"
	"github.com/automlhub/api/internal/service"
	"github.com/automlhub/api/pkg/response"
)

const defaultRowCount = 100

type FrameHandler struct {
	service   *service.FrameService
	validator *validator.Validate
}

func NewFrameHandler(svc *service.FrameService, v *validator.Validate) *FrameHandler {
	return &FrameHandler{
		service:   svc,
		validator: v,
	}
}

// Summary handles GET /api/projects/:projectId/frames/:frameId/summary
func (h *FrameHandler) Summary(c *fiber.Ctx) error {
	f, err := h.service.ColumnSummaries(c.UserContext(), c.Params("projectId"), param(c, "frameId"))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, f)
}

// Data handles GET /api/projects/:projectId/frames/:frameId/data?offset=&count=
func (h *FrameHandler) Data(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	count := c.QueryInt("count", defaultRowCount)

	f, err := h.service.FrameData(c.UserContext(), param(c, "frameId"), int64(offset), int64(count))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, f)
}

// Column handles GET /api/projects/:projectId/frames/:frameId/columns/:column?offset=&count=
func (h *FrameHandler) Column(c *fiber.Ctx) error {
	offset := c.QueryInt("offset", 0)
	count := c.QueryInt("count", defaultRowCount)

	col, err := h.service.FrameColumn(c.UserContext(), param(c, "frameId"), param(c, "column"), int64(offset), int64(count))
	if err != nil {
		return response.FromError(c, err)
	}
	return response.OK(c, col)
}

// ChangeColumnType handles POST /api/projects/:projectId/frames/:frameId/columns/:index/type
func (h *FrameHandler) ChangeColumnType(c *fiber.Ctx) error {
	index, err := c.ParamsInt("index")
	if err != nil || index < 0 {
		return response.ValidationError(c, "Column index must be a non-negative integer", nil)
	}

	var req model.ChangeColumnTypeRequest
	if ok, err := parseBody(c, h.validator, &req); !ok {
		return err
	}

	if err := h.service.ChangeColumnType(c.UserContext(), c.Params("projectId"), param(c, "frameId"), index, req.Type, req.From, req.To); err != nil {
		return response.FromError(c, err)
	}
	return response.NoContent(c)
}
