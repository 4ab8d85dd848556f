// encode.go
package processor

import (
	"fmt"
	"sort"
	"sync"

	"DemandForecast/src/datasource/file"
	"DemandForecast/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

const (
	ColSKUCode    = "sku_code"
	ColZipEncoded = "zip_code_encoded"
)

// CodeTable 一个分类列的取值与编码
type CodeTable struct {
	Column string
	Values []string // 下标即编码
}

// CodesFrame 把多个取值表合并为 (column, value, code) 三列的长表，用于导出
func CodesFrame(tables []CodeTable) dataframe.DataFrame {
	var columns, values []string
	var codes []int
	for _, ct := range tables {
		for i, v := range ct.Values {
			columns = append(columns, ct.Column)
			values = append(values, v)
			codes = append(codes, i)
		}
	}
	return dataframe.New(
		series.New(columns, series.String, "column"),
		series.New(values, series.String, "value"),
		series.New(codes, series.Int, "code"),
	)
}

// Code 查找取值对应的编码
func (ct CodeTable) Code(value string) (int, bool) {
	i := sort.SearchStrings(ct.Values, value)
	if i < len(ct.Values) && ct.Values[i] == value {
		return i, true
	}
	return -1, false
}

// CategoricalEncoder 将sku和zip_code按排序后的去重取值编码为整数
// 编码只对当前表有效，输入数据变化后同一取值的编码可能不同
type CategoricalEncoder struct {
	columns map[string]string // 源列 -> 编码列
	order   []string
	tables  []CodeTable
	mu      sync.RWMutex
}

func NewCategoricalEncoder() *CategoricalEncoder {
	return &CategoricalEncoder{
		columns: map[string]string{
			file.ColSKU:     ColSKUCode,
			file.ColZipCode: ColZipEncoded,
		},
		order: []string{file.ColSKU, file.ColZipCode},
	}
}

func (ce *CategoricalEncoder) ColCalculation(data *dataframe.DataFrame) error {
	df := *data
	tables := make([]CodeTable, 0, len(ce.order))

	for _, src := range ce.order {
		if !utils.HasColumn(df, src) {
			return fmt.Errorf("%w %q", file.ErrMissingColumn, src)
		}
		values := df.Col(src).Records()

		distinct := make(map[string]struct{}, len(values))
		for _, v := range values {
			distinct[v] = struct{}{}
		}
		table := CodeTable{Column: src, Values: make([]string, 0, len(distinct))}
		for v := range distinct {
			table.Values = append(table.Values, v)
		}
		sort.Strings(table.Values)

		index := make(map[string]int, len(table.Values))
		for i, v := range table.Values {
			index[v] = i
		}
		codes := make([]int, len(values))
		for i, v := range values {
			codes[i] = index[v]
		}

		df = df.Mutate(series.New(codes, series.Int, ce.columns[src]))
		if df.Err != nil {
			return fmt.Errorf("编码 %s 失败: %w", src, df.Err)
		}
		tables = append(tables, table)
	}

	ce.mu.Lock()
	ce.tables = tables
	ce.mu.Unlock()

	*data = df
	return nil
}

// Tables 返回最近一次编码的取值表
func (ce *CategoricalEncoder) Tables() []CodeTable {
	ce.mu.RLock()
	defer ce.mu.RUnlock()
	out := make([]CodeTable, len(ce.tables))
	copy(out, ce.tables)
	return out
}
