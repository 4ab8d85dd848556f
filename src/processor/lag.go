// lag.go
package processor

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"DemandForecast/src/datasource/file"
	"DemandForecast/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
)

var (
	ErrInvalidLag    = errors.New("滞后期必须为正整数")
	ErrInvalidWindow = errors.New("滑动窗口必须为正整数")
)

// LagColumn 滞后列名
func LagColumn(k int) string {
	return fmt.Sprintf("lag_%d", k)
}

// RollingColumn 滑动均值列名
func RollingColumn(window int) string {
	return fmt.Sprintf("rolling_mean_%d", window)
}

// NormalizeLags 校验滞后期并去重升序
func NormalizeLags(lags []int) ([]int, error) {
	seen := make(map[int]bool, len(lags))
	out := make([]int, 0, len(lags))
	for _, k := range lags {
		if k < 1 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidLag, k)
		}
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Ints(out)
	return out, nil
}

// LagFeatures 按 (sku, zip_code) 分组计算滞后量和滑动均值
type LagFeatures struct {
	Lags   []int
	Window int
}

func NewLagFeatures(lags []int, window int) *LagFeatures {
	return &LagFeatures{Lags: lags, Window: window}
}

// ColCalculation 排序后追加 lag_k 和 rolling_mean_w 列，并删除含缺失值的行
// lag_k 为组内前第k行的销量，rolling_mean_w 为组内前w行销量的均值(不含当前行)
func (lf *LagFeatures) ColCalculation(data *dataframe.DataFrame) error {
	lags, err := NormalizeLags(lf.Lags)
	if err != nil {
		return err
	}
	if lf.Window < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidWindow, lf.Window)
	}
	for _, col := range []string{file.ColDate, file.ColSKU, file.ColZipCode, file.ColVolume} {
		if !utils.HasColumn(*data, col) {
			return fmt.Errorf("%w %q", file.ErrMissingColumn, col)
		}
	}

	sorted, err := sortByGroup(*data)
	if err != nil {
		return err
	}

	n := sorted.Nrow()
	skus := sorted.Col(file.ColSKU).Records()
	zips := sorted.Col(file.ColZipCode).Records()
	volumes := sorted.Col(file.ColVolume).Float()

	lagValues := make([][]float64, len(lags))
	for j := range lagValues {
		lagValues[j] = nanSlice(n)
	}
	rolling := nanSlice(n)

	for start := 0; start < n; {
		end := start + 1
		for end < n && skus[end] == skus[start] && zips[end] == zips[start] {
			end++
		}
		group := volumes[start:end]

		for j, k := range lags {
			for i := k; i < len(group); i++ {
				lagValues[j][start+i] = group[i-k]
			}
		}

		// 先下移一行再取窗口均值，当前行不参与
		shifted := nanSlice(len(group))
		copy(shifted[1:], group[:len(group)-1])
		means := series.Floats(shifted).Rolling(lf.Window).Mean().Float()
		copy(rolling[start:end], means)

		start = end
	}

	for j, k := range lags {
		sorted = sorted.Mutate(series.New(lagValues[j], series.Float, LagColumn(k)))
	}
	sorted = sorted.Mutate(series.New(rolling, series.Float, RollingColumn(lf.Window)))
	if sorted.Err != nil {
		return fmt.Errorf("追加特征列失败: %w", sorted.Err)
	}

	keep := make([]int, 0, n)
	for i := 0; i < n; i++ {
		if math.IsNaN(rolling[i]) {
			continue
		}
		complete := true
		for j := range lags {
			if math.IsNaN(lagValues[j][i]) {
				complete = false
				break
			}
		}
		if complete {
			keep = append(keep, i)
		}
	}
	if len(keep) == 0 {
		return fmt.Errorf("滞后特征计算后: %w", file.ErrEmptyTable)
	}

	result := sorted.Subset(keep)
	if result.Err != nil {
		return fmt.Errorf("删除缺失行失败: %w", result.Err)
	}
	*data = result
	return nil
}

// sortByGroup 按 sku, zip_code, date 升序排列
// gota 多键 Arrange 在三个键以上时顺序有误，这里从低位键起逐个做稳定排序
func sortByGroup(df dataframe.DataFrame) (dataframe.DataFrame, error) {
	for _, col := range []string{file.ColDate, file.ColZipCode, file.ColSKU} {
		df = df.Arrange(dataframe.Sort(col))
		if df.Err != nil {
			return df, fmt.Errorf("按%s排序失败: %w", col, df.Err)
		}
	}
	return df, nil
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
