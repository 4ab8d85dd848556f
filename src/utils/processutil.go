package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/xuri/excelize/v2"
)

// DateLayout 日期列统一格式，按字符串排序即按时间排序
const DateLayout = "2006-01-02"

// 可接受的日期格式
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006/01/02",
	"2006/01/02 15:04:05",
	"20060102",
	time.RFC3339,
}

// excel序列日期，如 45597 或 45597.5
var excelSerial = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

func Contains[T comparable](slice []T, item T) bool {
	for _, v := range slice {
		if v == item {
			return true
		}
	}
	return false
}

// 辅助函数：判断DataFrame是否有某列
func HasColumn(df dataframe.DataFrame, name string) bool {
	for _, n := range df.Names() {
		if n == name {
			return true
		}
	}
	return false
}

// ParseDate 解析日期字符串，支持常见格式和excel序列日期
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "NaN" {
		return time.Time{}, fmt.Errorf("日期为空")
	}

	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	// 8位纯数字已按20060102处理过，这里只接受整数部分不超过6位的序列值
	if excelSerial.MatchString(s) && len(strings.SplitN(s, ".", 2)[0]) <= 6 {
		return excelToTime(s)
	}
	return time.Time{}, fmt.Errorf("无法解析日期 %q", s)
}

// excelToTime excel序列日期转time.Time
func excelToTime(s string) (time.Time, error) {
	excelDays, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return time.Time{}, err
	}

	// 以1899-12-30为基准已包含1900年闰年错误的修正
	base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
	days := int(excelDays)
	fraction := excelDays - float64(days)

	return base.AddDate(0, 0, days).
		Add(time.Duration(86400*fraction*1e9) * time.Nanosecond), nil
}

// NormalizeDates 把日期列统一为 DateLayout 格式的字符串列
// 任一单元格无法解析即返回错误，错误信息中的行号从1开始(不含表头)
func NormalizeDates(df dataframe.DataFrame, colName string) (dataframe.DataFrame, error) {
	if !HasColumn(df, colName) {
		return df, fmt.Errorf("缺少日期列 %q", colName)
	}

	records := df.Col(colName).Records()
	dates := make([]string, len(records))
	for i, raw := range records {
		t, err := ParseDate(raw)
		if err != nil {
			return df, fmt.Errorf("第%d行: %w", i+1, err)
		}
		dates[i] = t.Format(DateLayout)
	}

	out := df.Mutate(series.New(dates, series.String, colName))
	if out.Err != nil {
		return df, out.Err
	}
	return out, nil
}

// NamedFrame 写入xlsx的一个工作表
type NamedFrame struct {
	Name string
	DF   dataframe.DataFrame
}

func SaveToExcel(df dataframe.DataFrame, filePath string) error {
	return SaveSheetsToExcel(filePath, NamedFrame{Name: "Sheet1", DF: df})
}

// SaveSheetsToExcel 将多个DataFrame分别写入同一个xlsx文件的不同工作表
func SaveSheetsToExcel(filePath string, frames ...NamedFrame) error {
	f := excelize.NewFile()
	defer f.Close()

	for i, frame := range frames {
		sheetName := frame.Name
		if i == 0 && sheetName == "" {
			sheetName = "Sheet1"
		}
		if sheetName != "Sheet1" {
			if _, err := f.NewSheet(sheetName); err != nil {
				return fmt.Errorf("创建工作表 %s 失败: %w", sheetName, err)
			}
		}
		if err := writeSheet(f, sheetName, frame.DF); err != nil {
			return err
		}
	}

	if err := ensureDir(filePath); err != nil {
		return err
	}
	if err := f.SaveAs(filePath); err != nil {
		return fmt.Errorf("保存Excel文件失败: %w", err)
	}
	return nil
}

func writeSheet(f *excelize.File, sheetName string, df dataframe.DataFrame) error {
	if df.Err != nil {
		return df.Err
	}

	// 写入列名
	colNames := df.Names()
	cols := make([]series.Series, len(colNames))
	for i, name := range colNames {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheetName, cell, name); err != nil {
			return fmt.Errorf("写入表头失败: %w", err)
		}
		cols[i] = df.Col(name)
	}

	// 写入数据
	for rowIdx := 0; rowIdx < df.Nrow(); rowIdx++ {
		for colIdx, col := range cols {
			cell, _ := excelize.CoordinatesToCellName(colIdx+1, rowIdx+2)
			if err := f.SetCellValue(sheetName, cell, col.Val(rowIdx)); err != nil {
				return fmt.Errorf("写入单元格 %s 失败: %w", cell, err)
			}
		}
	}
	return nil
}

// SaveToCSV 将DataFrame写为csv
func SaveToCSV(df dataframe.DataFrame, filePath string) error {
	if err := ensureDir(filePath); err != nil {
		return err
	}
	f, err := os.Create(filePath)
	if err != nil {
		return fmt.Errorf("创建csv文件失败: %w", err)
	}
	if err := df.WriteCSV(f); err != nil {
		f.Close()
		return fmt.Errorf("写入csv文件失败: %w", err)
	}
	return f.Close()
}

func ensureDir(filePath string) error {
	dir := filepath.Dir(filePath)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建目录 %s 失败: %w", dir, err)
	}
	return nil
}
