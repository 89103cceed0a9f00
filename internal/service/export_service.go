package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/josecalderon2/CAI-backend/internal/dto"
	pkgerrors "github.com/josecalderon2/CAI-backend/pkg/errors"
)

// ── 导出模块业务错误 ──

var (
	ErrExportNoRows       = pkgerrors.New(pkgerrors.KindNotFound, "没有符合条件的任课分配")
	ErrExportTooLarge     = pkgerrors.New(pkgerrors.KindBadRequest, "导出行数超过上限，请缩小筛选范围")
	ErrExportGenerateFail = errors.New("生成 Excel 文件失败")
)

// 单次导出行数上限
const maxExportRows = 5000

// ExportService 导出业务接口
//
// 设计说明：
//   - 复用任课列表的过滤与读路径（use_mv 同样生效），逐页拉取后写入单个 Sheet
//   - 导出以 bytes.Buffer 返回，由 Handler 层设置 HTTP 响应头后写入 Response
type ExportService interface {
	// ExportAssignments 导出任课分配为 Excel
	ExportAssignments(ctx context.Context, q *dto.ListAssignmentsQuery) (*bytes.Buffer, string, error)
}

type exportService struct {
	assignments AssignmentService
	logger      *zap.Logger
	now         func() time.Time
}

// NewExportService 创建 ExportService 实例
func NewExportService(assignments AssignmentService, logger *zap.Logger) ExportService {
	return &exportService{assignments: assignments, logger: logger, now: time.Now}
}

var exportHeaders = []string{"ID", "教师", "课程", "班级", "科目", "周课时", "学年", "分配日期", "结束日期", "状态", "班主任"}

func (s *exportService) ExportAssignments(ctx context.Context, q *dto.ListAssignmentsQuery) (*bytes.Buffer, string, error) {
	// 1. 逐页拉取
	query := *q
	query.Limit = 100
	query.Refresh = false
	var rows []dto.AssignmentResponse
	for page := 1; ; page++ {
		query.Page = page
		result, err := s.assignments.List(ctx, &query)
		if err != nil {
			return nil, "", err
		}
		if result.Total > maxExportRows {
			return nil, "", fmt.Errorf("%w: %d 行", ErrExportTooLarge, result.Total)
		}
		rows = append(rows, result.Data...)
		if int64(page*query.Limit) >= result.Total {
			break
		}
	}
	if len(rows) == 0 {
		return nil, "", ErrExportNoRows
	}

	// 2. 生成 Excel
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "任课分配"
	idx, _ := f.NewSheet(sheetName)
	f.SetActiveSheet(idx)
	f.DeleteSheet("Sheet1")

	f.SetColWidth(sheetName, "A", "A", 8)
	f.SetColWidth(sheetName, "B", "E", 24)
	f.SetColWidth(sheetName, "F", "G", 10)
	f.SetColWidth(sheetName, "H", "I", 14)
	f.SetColWidth(sheetName, "J", "J", 12)
	f.SetColWidth(sheetName, "K", "K", 24)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})

	for i, h := range exportHeaders {
		f.SetCellValue(sheetName, cell(colName(i), 1), h)
	}
	f.SetCellStyle(sheetName, "A1", cell(colName(len(exportHeaders)-1), 1), headerStyle)

	for i, r := range rows {
		row := i + 2
		values := []interface{}{
			r.ID,
			r.Staff.FullName,
			r.Course.Name,
			deref(r.Course.Section),
			r.Subject.Name,
			r.WeeklyHoursEffective,
			r.AcademicYear,
			dateOnly(r.AssignmentDateISO),
			dateOnly(deref(r.EndDateISO)),
			r.Estado,
			principalName(r),
		}
		for col, v := range values {
			f.SetCellValue(sheetName, cell(colName(col), row), v)
		}
	}

	// 3. 写入 buffer
	buf := new(bytes.Buffer)
	if err := f.Write(buf); err != nil {
		s.logger.Error("写入 Excel 失败", zap.Error(err))
		return nil, "", ErrExportGenerateFail
	}

	filename := fmt.Sprintf("任课分配_%s.xlsx", s.now().Format("20060102"))
	return buf, filename, nil
}

// ── 辅助函数 ──

func colName(idx int) string {
	name, _ := excelize.ColumnNumberToName(idx + 1)
	return name
}

func cell(col string, row int) string {
	return fmt.Sprintf("%s%d", col, row)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// dateOnly 截取 ISO 时间的日期部分
func dateOnly(iso string) string {
	if len(iso) >= 10 {
		return iso[:10]
	}
	return iso
}

func principalName(r dto.AssignmentResponse) string {
	if r.Course.Principal == nil {
		return ""
	}
	return r.Course.Principal.FullName
}
