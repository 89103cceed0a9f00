package service

import (
	"go.uber.org/zap"

	"github.com/josecalderon2/CAI-backend/config"
	"github.com/josecalderon2/CAI-backend/internal/repository"
)

// Service 所有 Service 的聚合入口
type Service struct {
	Assignment AssignmentService
	Projection ProjectionService
	Export     ExportService
}

// NewService 创建 Service 聚合；stamp 为 nil 时只在本进程内节流
func NewService(
	cfg *config.Config,
	repo *repository.Repository,
	stamp RefreshStamp,
	logger *zap.Logger,
) *Service {
	projection := NewProjectionRefresher(repo.Projection, &cfg.Projection, stamp, logger)
	assignment := NewAssignmentService(repo, projection, logger)
	return &Service{
		Assignment: assignment,
		Projection: projection,
		Export:     NewExportService(assignment, logger),
	}
}
