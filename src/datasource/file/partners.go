// partners.go
package file

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Partner 配送伙伴
type Partner struct {
	ID             string
	DailyCapacity  int
	OnTimePercent  decimal.Decimal
	CostPerPackage decimal.Decimal
}

// PartnerStats 配送伙伴汇总
type PartnerStats struct {
	Count         int
	TotalCapacity int
	AvgOnTime     decimal.Decimal
	AvgCost       decimal.Decimal
}

// LoadPartners 读取配送伙伴表并校验取值范围
// daily_capacity 为正整数，on_time_percent 在[0,100]，cost_per_package 为正数
func (r *Reader) LoadPartners(path string) ([]Partner, error) {
	df, err := r.ReadTable(path)
	if err != nil {
		return nil, err
	}
	if err := requireColumns(df, path, PartnerColumns); err != nil {
		return nil, err
	}

	ids := df.Col(ColPartnerID).Records()
	capacity := df.Col(ColDailyCapacity).Records()
	onTime := df.Col(ColOnTimePercent).Records()
	cost := df.Col(ColCostPerPackage).Records()

	seen := make(map[string]bool, len(ids))
	partners := make([]Partner, 0, len(ids))
	for i := range ids {
		p := Partner{ID: strings.TrimSpace(ids[i])}
		if p.ID == "" || p.ID == "NaN" {
			return nil, fmt.Errorf("%s 第%d行: partner_id为空", path, i+1)
		}
		if seen[p.ID] {
			return nil, fmt.Errorf("%s 第%d行: partner_id %s 重复", path, i+1, p.ID)
		}
		seen[p.ID] = true

		if p.DailyCapacity, err = strconv.Atoi(strings.TrimSpace(capacity[i])); err != nil || p.DailyCapacity <= 0 {
			return nil, fmt.Errorf("%s 第%d行 %s: %w %q", path, i+1, ColDailyCapacity, ErrBadValue, capacity[i])
		}
		if p.OnTimePercent, err = decimal.NewFromString(strings.TrimSpace(onTime[i])); err != nil ||
			p.OnTimePercent.IsNegative() || p.OnTimePercent.GreaterThan(hundred) {
			return nil, fmt.Errorf("%s 第%d行 %s: %w %q", path, i+1, ColOnTimePercent, ErrBadValue, onTime[i])
		}
		if p.CostPerPackage, err = decimal.NewFromString(strings.TrimSpace(cost[i])); err != nil ||
			!p.CostPerPackage.IsPositive() {
			return nil, fmt.Errorf("%s 第%d行 %s: %w %q", path, i+1, ColCostPerPackage, ErrBadValue, cost[i])
		}
		partners = append(partners, p)
	}
	return partners, nil
}

// SummarizePartners 统计伙伴数量、总运力和平均准时率/单价(保留2位)
func SummarizePartners(partners []Partner) PartnerStats {
	stats := PartnerStats{Count: len(partners)}
	if len(partners) == 0 {
		return stats
	}
	onTime := decimal.Zero
	cost := decimal.Zero
	for _, p := range partners {
		stats.TotalCapacity += p.DailyCapacity
		onTime = onTime.Add(p.OnTimePercent)
		cost = cost.Add(p.CostPerPackage)
	}
	n := decimal.NewFromInt(int64(len(partners)))
	stats.AvgOnTime = onTime.Div(n).Round(2)
	stats.AvgCost = cost.Div(n).Round(2)
	return stats
}
