package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/josecalderon2/CAI-backend/internal/dto"
	"github.com/josecalderon2/CAI-backend/internal/service"
	pkgerrors "github.com/josecalderon2/CAI-backend/pkg/errors"
	"github.com/josecalderon2/CAI-backend/pkg/response"
)

// AssignmentHandler 任课分配模块 HTTP 处理器
type AssignmentHandler struct {
	assignmentSvc service.AssignmentService
	projection    service.ProjectionService
	logger        *zap.Logger
}

// NewAssignmentHandler 创建 AssignmentHandler
func NewAssignmentHandler(assignmentSvc service.AssignmentService, projection service.ProjectionService, logger *zap.Logger) *AssignmentHandler {
	return &AssignmentHandler{assignmentSvc: assignmentSvc, projection: projection, logger: logger}
}

// CreateAssignment 创建任课分配（同一科目/教师/学年重复提交时重新打开原分配）
// POST /api/v1/assignments
func (h *AssignmentHandler) CreateAssignment(c *gin.Context) {
	var req dto.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	assignment, err := h.assignmentSvc.Create(c.Request.Context(), &req)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	h.logger.Info("任课分配已写入",
		zap.String("caller", callerID), zap.Int64("id", assignment.ID),
		zap.Int64("subject_id", req.SubjectID), zap.Int64("staff_id", req.StaffID))
	response.Created(c, assignment)
}

// ListAssignments 任课分配列表
// GET /api/v1/assignments?page&limit&estado&staff_id&subject_id&course_id&academic_year&q&use_mv&refresh&soloOrientador
func (h *AssignmentHandler) ListAssignments(c *gin.Context) {
	var q dto.ListAssignmentsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	page, err := h.assignmentSvc.List(c.Request.Context(), &q)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, page)
}

// GetAssignment 获取任课分配详情
// GET /api/v1/assignments/:id
func (h *AssignmentHandler) GetAssignment(c *gin.Context) {
	id, ok := MustGetIDParam(c, "id", "任课分配ID无效")
	if !ok {
		return
	}

	assignment, err := h.assignmentSvc.GetByID(c.Request.Context(), id)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, assignment)
}

// UpdateAssignment 部分更新任课分配
// PATCH /api/v1/assignments/:id
func (h *AssignmentHandler) UpdateAssignment(c *gin.Context) {
	id, ok := MustGetIDParam(c, "id", "任课分配ID无效")
	if !ok {
		return
	}

	var req dto.UpdateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, 10001, "参数校验失败")
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	assignment, err := h.assignmentSvc.Update(c.Request.Context(), id, &req)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	h.logger.Info("任课分配已更新", zap.String("caller", callerID), zap.Int64("id", id))
	response.OK(c, assignment)
}

// DeleteAssignment 软关闭任课分配，返回关闭后的分配
// DELETE /api/v1/assignments/:id
func (h *AssignmentHandler) DeleteAssignment(c *gin.Context) {
	id, ok := MustGetIDParam(c, "id", "任课分配ID无效")
	if !ok {
		return
	}

	callerID, ok := MustGetUserID(c)
	if !ok {
		return
	}

	assignment, err := h.assignmentSvc.Remove(c.Request.Context(), id)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	h.logger.Info("任课分配已关闭", zap.String("caller", callerID), zap.Int64("id", id))
	response.OK(c, assignment)
}

// ListHistory 任职历史
// GET /api/v1/assignments/history?course_id&staff_id&subject_id&academic_year&is_principal&estado&order&page&limit
func (h *AssignmentHandler) ListHistory(c *gin.Context) {
	params, err := parseHistoryParams(c)
	if err != nil {
		response.ErrorWithDetails(c, http.StatusBadRequest, 10001, "参数校验失败", err.Error())
		return
	}

	page, err := h.assignmentSvc.ListHistory(c.Request.Context(), params)
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, page)
}

// RefreshProjection 手动刷新物化视图
// POST /api/v1/assignments/projection/refresh
func (h *AssignmentHandler) RefreshProjection(c *gin.Context) {
	response.OK(c, h.projection.Refresh(c.Request.Context(), true))
}

// GetCoursePrincipal 课程当前班主任（以历史记录为准）
// GET /api/v1/courses/:id/principal?academic_year=
func (h *AssignmentHandler) GetCoursePrincipal(c *gin.Context) {
	id, ok := MustGetIDParam(c, "id", "课程ID无效")
	if !ok {
		return
	}

	principal, err := h.assignmentSvc.GetCoursePrincipal(c.Request.Context(), id, c.Query("academic_year"))
	if err != nil {
		h.handleAssignmentError(c, err)
		return
	}

	response.OK(c, principal)
}

// ── 历史查询参数归一化 ──
// 空串视为未传，"null" 表示 IS NULL，"true"/"false" 转布尔

func parseHistoryParams(c *gin.Context) (*dto.HistoryParams, error) {
	p := &dto.HistoryParams{}
	var err error

	if p.CourseID, _, err = optionalID(c, "course_id", false); err != nil {
		return nil, err
	}
	if p.StaffID, _, err = optionalID(c, "staff_id", false); err != nil {
		return nil, err
	}
	if p.SubjectID, p.SubjectIsNull, err = optionalID(c, "subject_id", true); err != nil {
		return nil, err
	}

	switch v := strings.TrimSpace(c.Query("academic_year")); v {
	case "":
	case "null":
		p.AcademicYearIsNull = true
	default:
		p.AcademicYear = &v
	}

	switch v := strings.TrimSpace(c.Query("is_principal")); v {
	case "":
	case "true":
		p.IsPrincipal = boolPtr(true)
	case "false":
		p.IsPrincipal = boolPtr(false)
	default:
		return nil, fmt.Errorf("is_principal 只能为 true 或 false")
	}

	switch v := strings.ToLower(strings.TrimSpace(c.Query("estado"))); v {
	case "", "abierto", "cerrado":
		p.Estado = v
	default:
		return nil, fmt.Errorf("estado 只能为 abierto 或 cerrado")
	}

	switch v := strings.ToLower(strings.TrimSpace(c.Query("order"))); v {
	case "", "asc", "desc":
		p.Order = v
	default:
		return nil, fmt.Errorf("order 只能为 asc 或 desc")
	}

	if p.Page, err = optionalInt(c, "page", 1, 0); err != nil {
		return nil, err
	}
	if p.Limit, err = optionalInt(c, "limit", 1, 100); err != nil {
		return nil, err
	}
	return p, nil
}

// optionalID 解析可选的正整数 ID；allowNull 时 "null" 返回 isNull=true
func optionalID(c *gin.Context, key string, allowNull bool) (*int64, bool, error) {
	v := strings.TrimSpace(c.Query(key))
	switch {
	case v == "":
		return nil, false, nil
	case v == "null" && allowNull:
		return nil, true, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, false, fmt.Errorf("%s 必须为正整数", key)
	}
	return &id, false, nil
}

// optionalInt 解析可选整数；max 为 0 表示不设上限
func optionalInt(c *gin.Context, key string, min, max int) (int, error) {
	v := strings.TrimSpace(c.Query(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || (max > 0 && n > max) {
		return 0, fmt.Errorf("%s 超出范围", key)
	}
	return n, nil
}

func boolPtr(b bool) *bool { return &b }

// ── 错误映射 ──

func (h *AssignmentHandler) handleAssignmentError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrAssignmentNotFound):
		response.NotFound(c, 20001, "任课分配不存在")
	case errors.Is(err, service.ErrSubjectNotFound):
		response.NotFound(c, 20002, "科目不存在")
	case errors.Is(err, service.ErrTargetSubjectNotFound):
		response.NotFound(c, 20003, "目标科目不存在")
	case errors.Is(err, service.ErrStaffNotFound):
		response.NotFound(c, 20004, "教职员不存在")
	case errors.Is(err, service.ErrCourseNotFound):
		response.NotFound(c, 20005, "课程不存在")
	case errors.Is(err, service.ErrSubjectWithoutCourse):
		response.BadRequest(c, 20006, "科目未关联课程")
	case errors.Is(err, service.ErrCourseMismatch):
		response.ErrorWithDetails(c, http.StatusBadRequest, 20007, "科目不属于指定课程", err.Error())
	case errors.Is(err, service.ErrInvalidDate):
		response.ErrorWithDetails(c, http.StatusBadRequest, 20008, "日期格式无效", err.Error())
	case errors.Is(err, service.ErrInvalidAcademicYear):
		response.ErrorWithDetails(c, http.StatusBadRequest, 20013, "学年无效", err.Error())
	case errors.Is(err, service.ErrSubjectTaken):
		response.ErrorWithDetails(c, http.StatusConflict, 20009, "该科目本学年已有在任教师", err.Error())
	case errors.Is(err, service.ErrDuplicateAssignment):
		response.Conflict(c, 20010, "该科目/教师/学年的任课分配已存在")
	case errors.Is(err, service.ErrPrincipalConflict):
		response.Conflict(c, 20011, "该课程本学年已有在任班主任")
	case errors.Is(err, service.ErrConcurrentWrite):
		response.Conflict(c, 20012, "并发写入冲突，请重试")
	default:
		writeKindError(c, err)
	}
}

// writeKindError 未单独映射的错误按分类返回；未分类错误一律 500
func writeKindError(c *gin.Context, err error) {
	var e *pkgerrors.Error
	if !errors.As(err, &e) {
		response.InternalError(c)
		return
	}
	switch e.Kind {
	case pkgerrors.KindNotFound:
		response.NotFound(c, 10404, e.Message)
	case pkgerrors.KindBadRequest:
		response.BadRequest(c, 10001, e.Message)
	case pkgerrors.KindConflict:
		response.Conflict(c, 10409, e.Message)
	default:
		response.InternalError(c)
	}
}
