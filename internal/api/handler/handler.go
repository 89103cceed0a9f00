package handler

import (
	"go.uber.org/zap"

	"github.com/josecalderon2/CAI-backend/internal/service"
)

// Handler 所有 Handler 的聚合入口
type Handler struct {
	Assignment *AssignmentHandler
	Export     *ExportHandler
}

// NewHandler 创建 Handler 聚合
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{
		Assignment: NewAssignmentHandler(svc.Assignment, svc.Projection, logger.Named("audit")),
		Export:     NewExportHandler(svc.Export),
	}
}
