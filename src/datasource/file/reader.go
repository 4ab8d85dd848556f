// reader.go
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"DemandForecast/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/tealeg/xlsx"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

var (
	ErrEmptyTable    = errors.New("数据表为空")
	ErrMissingColumn = errors.New("缺少必需列")
	ErrBadDate       = errors.New("日期格式错误")
	ErrBadValue      = errors.New("数值格式错误")
)

// 标准列名
const (
	ColDate      = "date"
	ColSKU       = "sku"
	ColZipCode   = "zip_code"
	ColVolume    = "volume"
	ColDayOfWeek = "day_of_week"
	ColIsWeekend = "is_weekend"
	ColIsHoliday = "is_holiday"

	ColPartnerID      = "partner_id"
	ColDailyCapacity  = "daily_capacity"
	ColOnTimePercent  = "on_time_percent"
	ColCostPerPackage = "cost_per_package"
)

var (
	OrderColumns    = []string{ColDate, ColSKU, ColZipCode, ColVolume}
	CalendarColumns = []string{ColDate, ColDayOfWeek, ColIsWeekend, ColIsHoliday}
	PartnerColumns  = []string{ColPartnerID, ColDailyCapacity, ColOnTimePercent, ColCostPerPackage}
)

// Options 读取选项
type Options struct {
	SheetName string            // xlsx工作表名，空则取第一个
	Encoding  string            // csv编码: utf-8(默认)/gbk/gb2312/gb18030
	Columns   map[string]string // 文件列名 -> 标准列名
}

// Reader 读取csv/xlsx平面表
type Reader struct {
	opts Options
}

func NewReader(opts Options) *Reader {
	return &Reader{opts: opts}
}

// ReadTable 读取一个平面表，所有列按字符串读入并按映射改为标准列名
func (r *Reader) ReadTable(path string) (dataframe.DataFrame, error) {
	var (
		df  dataframe.DataFrame
		err error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".txt":
		df, err = r.readCSV(path)
	case ".xlsx":
		df, err = r.readXLSX(path)
	default:
		return dataframe.DataFrame{}, fmt.Errorf("不支持的文件类型: %s", path)
	}
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	for physical, canonical := range r.opts.Columns {
		if !utils.HasColumn(df, physical) || utils.HasColumn(df, canonical) {
			continue
		}
		df = df.Rename(canonical, physical)
		if df.Err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("%s 列重命名失败: %w", path, df.Err)
		}
	}
	return df, nil
}

func (r *Reader) readCSV(path string) (dataframe.DataFrame, error) {
	f, err := os.Open(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	decoded, err := decodeReader(f, r.opts.Encoding)
	if err != nil {
		return dataframe.DataFrame{}, err
	}

	df := dataframe.ReadCSV(decoded,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		// 只有表头或空文件
		if strings.Contains(df.Err.Error(), "empty DataFrame") {
			return dataframe.DataFrame{}, fmt.Errorf("%s: %w", path, ErrEmptyTable)
		}
		return dataframe.DataFrame{}, fmt.Errorf("解析 %s 失败: %w", path, df.Err)
	}
	return df, nil
}

// decodeReader 根据编码包装reader，utf-8时去掉BOM
func decodeReader(rd io.Reader, encoding string) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "utf-8", "utf8":
		return transform.NewReader(rd, unicode.BOMOverride(unicode.UTF8.NewDecoder())), nil
	case "gbk", "gb2312":
		return transform.NewReader(rd, simplifiedchinese.GBK.NewDecoder()), nil
	case "gb18030":
		return transform.NewReader(rd, simplifiedchinese.GB18030.NewDecoder()), nil
	default:
		return nil, fmt.Errorf("不支持的编码: %s", encoding)
	}
}

func (r *Reader) readXLSX(path string) (dataframe.DataFrame, error) {
	xlFile, err := xlsx.OpenFile(path)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("xlsx open file false: %w", err)
	}

	if len(xlFile.Sheets) == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("excel文件中没有工作表: %s", path)
	}
	sheet := xlFile.Sheets[0]
	if r.opts.SheetName != "" {
		s, ok := xlFile.Sheet[r.opts.SheetName]
		if !ok {
			return dataframe.DataFrame{}, fmt.Errorf("excel文件 %s 中没有工作表 %s", path, r.opts.SheetName)
		}
		sheet = s
	}

	df, err := convertSheetToDataFrame(sheet)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%s: %w", path, err)
	}
	return df, nil
}

// convertSheetToDataFrame 将xlsx.Sheet转换为dataframe.DataFrame
// 第一行为标题行
func convertSheetToDataFrame(sheet *xlsx.Sheet) (dataframe.DataFrame, error) {
	if len(sheet.Rows) < 2 {
		return dataframe.DataFrame{}, ErrEmptyTable
	}

	var headers []string
	for _, cell := range sheet.Rows[0].Cells {
		headers = append(headers, strings.TrimSpace(cell.Value))
	}

	records := [][]string{headers}
	for _, row := range sheet.Rows[1:] {
		if row == nil {
			continue
		}
		record := make([]string, len(headers))
		empty := true
		for i, cell := range row.Cells {
			if i < len(headers) { // 确保不超出列数范围
				record[i] = cell.Value
				if strings.TrimSpace(cell.Value) != "" {
					empty = false
				}
			}
		}
		// 跳过完全空的行
		if empty {
			continue
		}
		records = append(records, record)
	}

	df := dataframe.LoadRecords(records,
		dataframe.DetectTypes(false),
		dataframe.DefaultType(series.String),
	)
	if df.Err != nil {
		return dataframe.DataFrame{}, df.Err
	}
	return df, nil
}

func requireColumns(df dataframe.DataFrame, path string, cols []string) error {
	for _, c := range cols {
		if !utils.HasColumn(df, c) {
			return fmt.Errorf("%s: %w %q", path, ErrMissingColumn, c)
		}
	}
	return nil
}

// LoadOrders 读取订单表: date, sku, zip_code, volume(非负整数)
func (r *Reader) LoadOrders(path string) (dataframe.DataFrame, error) {
	df, err := r.ReadTable(path)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if err := requireColumns(df, path, OrderColumns); err != nil {
		return dataframe.DataFrame{}, err
	}

	if df, err = normalizeDates(df, path); err != nil {
		return dataframe.DataFrame{}, err
	}
	for _, col := range []string{ColSKU, ColZipCode} {
		if df, err = trimKeys(df, path, col); err != nil {
			return dataframe.DataFrame{}, err
		}
	}

	volumes, err := parseInts(df.Col(ColVolume).Records(), func(v int) bool { return v >= 0 })
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%s 列 %s: %w", path, ColVolume, err)
	}
	df = df.Mutate(series.New(volumes, series.Int, ColVolume))
	if df.Err != nil {
		return dataframe.DataFrame{}, df.Err
	}
	return df, nil
}

// LoadCalendar 读取日历表: date(唯一), day_of_week(0-6), is_weekend, is_holiday(0/1)
func (r *Reader) LoadCalendar(path string) (dataframe.DataFrame, error) {
	df, err := r.ReadTable(path)
	if err != nil {
		return dataframe.DataFrame{}, err
	}
	if err := requireColumns(df, path, CalendarColumns); err != nil {
		return dataframe.DataFrame{}, err
	}

	if df, err = normalizeDates(df, path); err != nil {
		return dataframe.DataFrame{}, err
	}

	seen := make(map[string]int)
	for i, d := range df.Col(ColDate).Records() {
		if prev, ok := seen[d]; ok {
			return dataframe.DataFrame{}, fmt.Errorf("%s: 日期 %s 重复(第%d行与第%d行)", path, d, prev+1, i+1)
		}
		seen[d] = i
	}

	dow, err := parseInts(df.Col(ColDayOfWeek).Records(), func(v int) bool { return v >= 0 && v <= 6 })
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%s 列 %s: %w", path, ColDayOfWeek, err)
	}
	df = df.Mutate(series.New(dow, series.Int, ColDayOfWeek))

	for _, col := range []string{ColIsWeekend, ColIsHoliday} {
		flags, err := parseFlags(df.Col(col).Records())
		if err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("%s 列 %s: %w", path, col, err)
		}
		df = df.Mutate(series.New(flags, series.Int, col))
	}
	if df.Err != nil {
		return dataframe.DataFrame{}, df.Err
	}
	return df, nil
}

// LoadData 读取订单表和日历表并按日期内连接
func (r *Reader) LoadData(orderPath, calendarPath string) (dataframe.DataFrame, error) {
	orders, err := r.LoadOrders(orderPath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("读取订单表失败: %w", err)
	}
	calendar, err := r.LoadCalendar(calendarPath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("读取日历表失败: %w", err)
	}
	return Merge(orders, calendar)
}

// Merge 订单表与日历表按date内连接，结果列顺序: date, 订单列, 日历列
func Merge(orders, calendar dataframe.DataFrame) (dataframe.DataFrame, error) {
	merged := orders.InnerJoin(calendar, ColDate)
	if merged.Err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("合并订单表与日历表失败: %w", merged.Err)
	}
	if merged.Nrow() == 0 {
		return dataframe.DataFrame{}, fmt.Errorf("合并后: %w", ErrEmptyTable)
	}
	return merged, nil
}

func normalizeDates(df dataframe.DataFrame, path string) (dataframe.DataFrame, error) {
	out, err := utils.NormalizeDates(df, ColDate)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("%s: %w: %v", path, ErrBadDate, err)
	}
	return out, nil
}

func trimKeys(df dataframe.DataFrame, path, col string) (dataframe.DataFrame, error) {
	records := df.Col(col).Records()
	for i, v := range records {
		v = strings.TrimSpace(v)
		if v == "" || v == "NaN" {
			return dataframe.DataFrame{}, fmt.Errorf("%s 列 %s 第%d行为空", path, col, i+1)
		}
		records[i] = v
	}
	out := df.Mutate(series.New(records, series.String, col))
	if out.Err != nil {
		return dataframe.DataFrame{}, out.Err
	}
	return out, nil
}

func parseInts(records []string, valid func(int) bool) ([]int, error) {
	out := make([]int, len(records))
	for i, raw := range records {
		v, err := strconv.Atoi(strings.TrimSpace(raw))
		if err != nil || !valid(v) {
			return nil, fmt.Errorf("%w: 第%d行 %q", ErrBadValue, i+1, raw)
		}
		out[i] = v
	}
	return out, nil
}

func parseFlags(records []string) ([]int, error) {
	out := make([]int, len(records))
	for i, raw := range records {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "1", "true", "yes", "是":
			out[i] = 1
		case "0", "false", "no", "否":
			out[i] = 0
		default:
			return nil, fmt.Errorf("%w: 第%d行 %q", ErrBadValue, i+1, raw)
		}
	}
	return out, nil
}
