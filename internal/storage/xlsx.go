package storage

import (
	"fmt"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"

	"cv-extractor/internal/types"
)

// excel 单元格上限 32767 字符
const maxCellChars = 32000

// ExportRowsXLSX 把行导出为 xlsx 字节，表头与 CSV 一致
func ExportRowsXLSX(kind types.DocumentKind, rows []types.Row, prefixed bool) ([]byte, error) {
	schema := types.SchemaFor(kind)
	sheet := "Applicants"
	if kind == types.KindRole {
		sheet = "Roles"
	}

	f := excelize.NewFile()
	defer f.Close()
	// 默认表名为 Sheet1，直接改名
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, fmt.Errorf("xlsx sheet: %w", err)
	}

	header := types.RowHeader(schema, prefixed)
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, fmt.Errorf("xlsx header: %w", err)
		}
	}
	for r, row := range rows {
		for c, v := range row.Values(schema) {
			v = truncateCell(v)
			cell, _ := excelize.CoordinatesToCellName(c+1, r+2)
			if err := f.SetCellValue(sheet, cell, v); err != nil {
				return nil, fmt.Errorf("xlsx cell %s: %w", cell, err)
			}
		}
	}

	// 表头冻结，方便浏览
	_ = f.SetPanes(sheet, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})
	_ = f.SetColWidth(sheet, "A", "C", 24)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}
	return buf.Bytes(), nil
}

// truncateCell 按字符截断到单元格上限，不拆开多字节字符
func truncateCell(v string) string {
	if len(v) <= maxCellChars || utf8.RuneCountInString(v) <= maxCellChars {
		return v
	}
	return string([]rune(v)[:maxCellChars])
}
