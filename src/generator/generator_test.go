package generator

import (
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"DemandForecast/src/config"
	"DemandForecast/src/datasource/file"
	"DemandForecast/src/processor"
)

func defaultConfig() config.GenerateConfig {
	return config.GenerateConfig{
		NumSKUs:   50,
		NumZips:   10,
		NumDays:   180,
		Partners:  15,
		StartDate: "2024-11-01",
		Seed:      42,
	}
}

func TestOrders(t *testing.T) {
	g, err := New(defaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	df := g.Orders()
	if df.Err != nil {
		t.Fatal(df.Err)
	}
	if df.Nrow() != 90000 {
		t.Fatalf("rows = %d, want 90000", df.Nrow())
	}

	volumes, err := df.Col("volume").Int()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range volumes {
		if v < 5 {
			t.Fatalf("row %d volume = %d", i, v)
		}
	}

	zips := make(map[string]bool)
	for _, z := range df.Col("zip_code").Records() {
		zips[z] = true
		if len(z) != 5 {
			t.Fatalf("zip %q", z)
		}
	}
	if len(zips) != 10 {
		t.Errorf("distinct zips = %d", len(zips))
	}

	skus := df.Col("sku").Records()
	if skus[0] != "SKU_001" || skus[len(skus)-1] != "SKU_050" {
		t.Errorf("sku range %s..%s", skus[0], skus[len(skus)-1])
	}
}

func TestSeedReproducible(t *testing.T) {
	cfg := defaultConfigWith(2, 10)
	a, _ := New(cfg)
	b, _ := New(cfg)
	first := a.Orders().Records()
	if !reflect.DeepEqual(first, b.Orders().Records()) {
		t.Fatal("same seed produced different orders")
	}

	cfg.Seed = 7
	c, _ := New(cfg)
	if reflect.DeepEqual(first, c.Orders().Records()) {
		t.Fatal("different seeds produced identical orders")
	}
}

func defaultConfigWith(skus, days int) config.GenerateConfig {
	cfg := defaultConfig()
	cfg.NumSKUs, cfg.NumDays = skus, days
	return cfg
}

func TestCalendar(t *testing.T) {
	g, _ := New(defaultConfigWith(1, 14))
	cal := g.Calendar()

	// 2024-11-01 是周五
	dow, _ := cal.Col("day_of_week").Int()
	if !reflect.DeepEqual(dow[:7], []int{4, 5, 6, 0, 1, 2, 3}) {
		t.Errorf("day_of_week = %v", dow[:7])
	}
	weekend, _ := cal.Col("is_weekend").Int()
	if !reflect.DeepEqual(weekend[:7], []int{0, 1, 1, 0, 0, 0, 0}) {
		t.Errorf("is_weekend = %v", weekend[:7])
	}
	holiday, _ := cal.Col("is_holiday").Int()
	for i, h := range holiday {
		if (i%7 == 0) != (h == 1) {
			t.Errorf("is_holiday[%d] = %d", i, h)
		}
	}
}

func TestWriteAllFeedsPipeline(t *testing.T) {
	dir := t.TempDir()
	cfg := defaultConfigWith(3, 20)
	cfg.NumZips = 2
	g, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	paths, err := g.WriteAll(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(paths) != 3 || !strings.HasSuffix(paths[0], OrdersFile) {
		t.Fatalf("paths = %v", paths)
	}

	reader := file.NewReader(file.Options{})
	partners, err := reader.LoadPartners(filepath.Join(dir, PartnersFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(partners) != 15 || partners[14].ID != "Partner_15" {
		t.Fatalf("partners = %d", len(partners))
	}
	for _, p := range partners {
		if p.DailyCapacity < 600 || p.DailyCapacity > 3000 || p.OnTimePercent.Exponent() < -2 {
			t.Errorf("partner %+v out of range", p)
		}
	}

	df, err := processor.PreprocessForecastingData(
		filepath.Join(dir, OrdersFile), filepath.Join(dir, CalendarFile), nil)
	if err != nil {
		t.Fatal(err)
	}
	// 3 SKU x 2 邮编，每组20天保留下标7..19
	if df.Nrow() != 3*2*13 {
		t.Errorf("feature rows = %d, want %d", df.Nrow(), 3*2*13)
	}
}

func TestNewRejectsBadStart(t *testing.T) {
	cfg := defaultConfig()
	cfg.StartDate = "11/01/2024"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected start date error")
	}
}
