// data.go
package processor

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"DemandForecast/src/datasource/file"
	"DemandForecast/src/utils"

	"github.com/go-gota/gota/dataframe"
	"gonum.org/v1/gonum/stat"
)

// DataProcess 流水线中的一个特征计算步骤，直接修改传入的表
type DataProcess interface {
	ColCalculation(data *dataframe.DataFrame) error
}

// Summary 一次运行的统计信息
type Summary struct {
	Rows       int       `json:"rows"`
	SKUs       int       `json:"skus"`
	ZipCodes   int       `json:"zip_codes"`
	Groups     int       `json:"groups"`
	StartDate  string    `json:"start_date"`
	EndDate    string    `json:"end_date"`
	VolumeMean float64   `json:"volume_mean"`
	VolumeStd  float64   `json:"volume_std"`
	DailyMean  float64   `json:"daily_volume_mean"` // 按日期汇总后的日均总量
	UpdatedAt  time.Time `json:"updated_at"`
}

// CalculateMetrics 计算特征表的统计信息
func CalculateMetrics(df dataframe.DataFrame) (Summary, error) {
	if df.Err != nil {
		return Summary{}, df.Err
	}
	for _, col := range []string{file.ColDate, file.ColSKU, file.ColZipCode, file.ColVolume} {
		if !utils.HasColumn(df, col) {
			return Summary{}, fmt.Errorf("统计失败: %w %q", file.ErrMissingColumn, col)
		}
	}

	s := Summary{Rows: df.Nrow(), UpdatedAt: time.Now()}
	if s.Rows == 0 {
		return s, nil
	}

	dates := df.Col(file.ColDate).Records()
	skus := df.Col(file.ColSKU).Records()
	zips := df.Col(file.ColZipCode).Records()
	volumes := df.Col(file.ColVolume).Float()

	skuSet := make(map[string]struct{})
	zipSet := make(map[string]struct{})
	groupSet := make(map[[2]string]struct{})
	daily := make(map[string]float64)
	for i := range dates {
		skuSet[skus[i]] = struct{}{}
		zipSet[zips[i]] = struct{}{}
		groupSet[[2]string{skus[i], zips[i]}] = struct{}{}
		daily[dates[i]] += volumes[i]
	}
	s.SKUs = len(skuSet)
	s.ZipCodes = len(zipSet)
	s.Groups = len(groupSet)

	days := make([]string, 0, len(daily))
	totals := make([]float64, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Strings(days)
	for _, d := range days {
		totals = append(totals, daily[d])
	}
	s.StartDate = days[0]
	s.EndDate = days[len(days)-1]

	s.VolumeMean = stat.Mean(volumes, nil)
	if len(volumes) > 1 {
		s.VolumeStd = stat.StdDev(volumes, nil)
	}
	s.DailyMean = stat.Mean(totals, nil)
	return s, nil
}

func (s Summary) String() string {
	return fmt.Sprintf("行数=%d SKU=%d 邮编=%d 分组=%d 日期=%s~%s 销量均值=%.2f 标准差=%.2f 日均总量=%.2f",
		s.Rows, s.SKUs, s.ZipCodes, s.Groups, s.StartDate, s.EndDate,
		round2(s.VolumeMean), round2(s.VolumeStd), round2(s.DailyMean))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// FeatureStore 保存最近一次运行结果，供web和邮件读取
type FeatureStore struct {
	df      dataframe.DataFrame
	codes   []CodeTable
	summary Summary
	ok      bool
	mu      sync.RWMutex
}

func NewFeatureStore() *FeatureStore {
	return &FeatureStore{}
}

func (fs *FeatureStore) Set(df dataframe.DataFrame, codes []CodeTable, summary Summary) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.df = df
	fs.codes = codes
	fs.summary = summary
	fs.ok = true
}

// Get 返回结果的副本，ok为false表示还没有成功运行过
func (fs *FeatureStore) Get() (df dataframe.DataFrame, codes []CodeTable, ok bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.df.Copy(), fs.codes, fs.ok
}

func (fs *FeatureStore) Summary() (Summary, bool) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.summary, fs.ok
}
