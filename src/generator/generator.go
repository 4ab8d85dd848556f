// generator.go
package generator

import (
	"fmt"
	"path/filepath"
	"time"

	"DemandForecast/src/config"
	"DemandForecast/src/datasource/file"
	"DemandForecast/src/utils"

	"github.com/go-gota/gota/dataframe"
	"github.com/go-gota/gota/series"
	"github.com/shopspring/decimal"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// 输出文件名
const (
	OrdersFile   = "generated_orders.csv"
	PartnersFile = "delivery_partners.csv"
	CalendarFile = "calendar_features.csv"
)

const (
	minVolume     = 5
	maxVolume     = 50
	weekendBoost  = 5
	noiseLambda   = 10
	minCapacity   = 600
	maxCapacity   = 3000
	minOnTime     = 85.0
	maxOnTime     = 99.0
	minCost       = 0.5
	maxCost       = 2.0
	minZip        = 10000
	maxZip        = 99999
	holidayPeriod = 7
)

// Generator 生成模拟订单、配送伙伴和日历数据，相同种子结果相同
type Generator struct {
	cfg   config.GenerateConfig
	start time.Time
	rnd   *rand.Rand
	noise distuv.Poisson
}

func New(cfg config.GenerateConfig) (*Generator, error) {
	start, err := time.Parse(utils.DateLayout, cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("起始日期格式错误: %w", err)
	}
	if cfg.NumZips > maxZip-minZip+1 {
		return nil, fmt.Errorf("邮编数量超出范围: %d", cfg.NumZips)
	}
	src := rand.NewSource(uint64(cfg.Seed))
	return &Generator{
		cfg:   cfg,
		start: start,
		rnd:   rand.New(src),
		noise: distuv.Poisson{Lambda: noiseLambda, Src: src},
	}, nil
}

// uniformInt 返回 [lo, hi] 内的整数
func (g *Generator) uniformInt(lo, hi int) int {
	return lo + g.rnd.Intn(hi-lo+1)
}

// uniform2dp 返回 [lo, hi) 内保留两位小数的值
func (g *Generator) uniform2dp(lo, hi float64) decimal.Decimal {
	v := lo + g.rnd.Float64()*(hi-lo)
	return decimal.NewFromFloat(v).Round(2)
}

// weekday 周一为0
func weekday(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func (g *Generator) day(i int) time.Time {
	return g.start.AddDate(0, 0, i)
}

// zipCodes 不重复的5位邮编
func (g *Generator) zipCodes() []string {
	seen := make(map[int]bool, g.cfg.NumZips)
	zips := make([]string, 0, g.cfg.NumZips)
	for len(zips) < g.cfg.NumZips {
		z := g.uniformInt(minZip, maxZip)
		if seen[z] {
			continue
		}
		seen[z] = true
		zips = append(zips, fmt.Sprintf("%05d", z))
	}
	return zips
}

// Orders 每个 (sku, zip, 日期) 一行
// 销量 = U{5..50} + 周五/周六加5 + Poisson(10)
func (g *Generator) Orders() dataframe.DataFrame {
	zips := g.zipCodes()
	n := g.cfg.NumSKUs * len(zips) * g.cfg.NumDays

	dates := make([]string, 0, n)
	skus := make([]string, 0, n)
	zipCol := make([]string, 0, n)
	volumes := make([]int, 0, n)

	for s := 1; s <= g.cfg.NumSKUs; s++ {
		sku := fmt.Sprintf("SKU_%03d", s)
		for _, zip := range zips {
			for d := 0; d < g.cfg.NumDays; d++ {
				day := g.day(d)
				volume := g.uniformInt(minVolume, maxVolume)
				if wd := weekday(day); wd == 4 || wd == 5 {
					volume += weekendBoost
				}
				volume += int(g.noise.Rand())

				dates = append(dates, day.Format(utils.DateLayout))
				skus = append(skus, sku)
				zipCol = append(zipCol, zip)
				volumes = append(volumes, volume)
			}
		}
	}

	return dataframe.New(
		series.New(dates, series.String, file.ColDate),
		series.New(skus, series.String, file.ColSKU),
		series.New(zipCol, series.String, file.ColZipCode),
		series.New(volumes, series.Int, file.ColVolume),
	)
}

// Partners 配送伙伴：日运力、准时率、单件成本
func (g *Generator) Partners() dataframe.DataFrame {
	n := g.cfg.Partners
	ids := make([]string, n)
	capacity := make([]int, n)
	onTime := make([]string, n)
	cost := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("Partner_%02d", i+1)
		capacity[i] = g.uniformInt(minCapacity, maxCapacity)
		onTime[i] = g.uniform2dp(minOnTime, maxOnTime).StringFixed(2)
		cost[i] = g.uniform2dp(minCost, maxCost).StringFixed(2)
	}
	return dataframe.New(
		series.New(ids, series.String, file.ColPartnerID),
		series.New(capacity, series.Int, file.ColDailyCapacity),
		series.New(onTime, series.String, file.ColOnTimePercent),
		series.New(cost, series.String, file.ColCostPerPackage),
	)
}

// Calendar 日历特征：周几(周一为0)、是否周末、是否节假日(从起始日起每7天一次)
func (g *Generator) Calendar() dataframe.DataFrame {
	n := g.cfg.NumDays
	dates := make([]string, n)
	dow := make([]int, n)
	weekend := make([]int, n)
	holiday := make([]int, n)
	for i := 0; i < n; i++ {
		day := g.day(i)
		dates[i] = day.Format(utils.DateLayout)
		dow[i] = weekday(day)
		if dow[i] >= 5 {
			weekend[i] = 1
		}
		if i%holidayPeriod == 0 {
			holiday[i] = 1
		}
	}
	return dataframe.New(
		series.New(dates, series.String, file.ColDate),
		series.New(dow, series.Int, file.ColDayOfWeek),
		series.New(weekend, series.Int, file.ColIsWeekend),
		series.New(holiday, series.Int, file.ColIsHoliday),
	)
}

// WriteAll 把三张表写到dir下，返回写出的文件路径
func (g *Generator) WriteAll(dir string) ([]string, error) {
	tables := []struct {
		name string
		df   dataframe.DataFrame
	}{
		{OrdersFile, g.Orders()},
		{PartnersFile, g.Partners()},
		{CalendarFile, g.Calendar()},
	}

	paths := make([]string, 0, len(tables))
	for _, t := range tables {
		if t.df.Err != nil {
			return paths, fmt.Errorf("生成 %s 失败: %w", t.name, t.df.Err)
		}
		path := filepath.Join(dir, t.name)
		if err := utils.SaveToCSV(t.df, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
