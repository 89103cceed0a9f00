package handler

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"

	"github.com/josecalderon2/CAI-backend/internal/dto"
	"github.com/josecalderon2/CAI-backend/internal/service"
	"github.com/josecalderon2/CAI-backend/pkg/response"
)

// ExportHandler 导出模块 HTTP 处理器
type ExportHandler struct {
	exportSvc service.ExportService
}

// NewExportHandler 创建 ExportHandler
func NewExportHandler(exportSvc service.ExportService) *ExportHandler {
	return &ExportHandler{exportSvc: exportSvc}
}

// ExportAssignments 导出任课分配（筛选参数与列表接口一致）
// GET /api/v1/export/assignments?estado&staff_id&subject_id&course_id&academic_year&q&use_mv&soloOrientador
func (h *ExportHandler) ExportAssignments(c *gin.Context) {
	var q dto.ListAssignmentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	buf, filename, err := h.exportSvc.ExportAssignments(c.Request.Context(), &q)
	if err != nil {
		h.handleExportError(c, err)
		return
	}

	// 设置下载响应头
	encodedFilename := url.QueryEscape(filename)
	c.Header("Content-Description", "File Transfer")
	c.Header("Content-Disposition", "attachment; filename*=UTF-8''"+encodedFilename)
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (h *ExportHandler) handleExportError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrExportNoRows):
		response.NotFound(c, 21001, "没有符合条件的任课分配")
	case errors.Is(err, service.ErrExportTooLarge):
		response.BadRequest(c, 21002, "导出行数超过上限，请缩小筛选范围")
	case errors.Is(err, service.ErrExportGenerateFail):
		response.InternalError(c)
	default:
		writeKindError(c, err)
	}
}
