package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func writeJSON(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfigs(t *testing.T) {
	dir := t.TempDir()
	writeJSON(t, dir, "config.json", `{
		"data_dir": "/srv/data",
		"orders_file": "orders.xlsx",
		"output_file": "out/features.xlsx",
		"email": {"server": "imap.example.com:993", "check_interval": "90s"},
		"schedule": "@every 1h"
	}`)
	writeJSON(t, dir, "dataconfig.json", `{
		"columns": {"date": "日期", "sku": "sku"},
		"lags": [1, 2],
		"generate": {"num_days": 30}
	}`)

	cfg, dcfg, err := loadConfigs(dir, "config.json", "dataconfig.json")
	if err != nil {
		t.Fatalf("loadConfigs: %v", err)
	}

	if got := cfg.OrdersPath(); got != filepath.Join("/srv/data", "orders.xlsx") {
		t.Errorf("OrdersPath = %q", got)
	}
	if got := cfg.CalendarPath(); got != filepath.Join("/srv/data", "calendar_features.csv") {
		t.Errorf("CalendarPath = %q", got)
	}
	if time.Duration(cfg.Email.CheckInterval) != 90*time.Second {
		t.Errorf("CheckInterval = %v", time.Duration(cfg.Email.CheckInterval))
	}
	if cfg.LogName != DefaultLogName || cfg.LogMaxSize != DefaultLogMaxSize {
		t.Errorf("log defaults not applied: %q %q", cfg.LogName, cfg.LogMaxSize)
	}

	if !reflect.DeepEqual(dcfg.Lags, []int{1, 2}) {
		t.Errorf("Lags = %v", dcfg.Lags)
	}
	if dcfg.RollingWindow != DefaultRollingWindow {
		t.Errorf("RollingWindow = %d", dcfg.RollingWindow)
	}
	if dcfg.Generate.NumDays != 30 || dcfg.Generate.NumSKUs != 50 || dcfg.Generate.StartDate != "2024-11-01" {
		t.Errorf("generate defaults: %+v", dcfg.Generate)
	}
	if got := dcfg.GetColumn("date"); got != "日期" {
		t.Errorf("GetColumn(date) = %q", got)
	}
	if got := dcfg.GetColumn("volume"); got != "volume" {
		t.Errorf("GetColumn(volume) = %q", got)
	}
	if m := dcfg.ColumnMap(); !reflect.DeepEqual(m, map[string]string{"日期": "date"}) {
		t.Errorf("ColumnMap = %v", m)
	}
}

func TestLoadConfigsErrors(t *testing.T) {
	tests := []struct {
		name     string
		config   string
		data     string
		contains []string
	}{
		{
			name:     "both files malformed",
			config:   `{`,
			data:     `[`,
			contains: []string{"解析Config失败", "解析DataConfig失败"},
		},
		{
			name:     "non positive lag",
			config:   `{}`,
			data:     `{"lags": [1, 0]}`,
			contains: []string{"滞后期必须为正整数"},
		},
		{
			name:     "bad start date",
			config:   `{}`,
			data:     `{"generate": {"start_date": "01/11/2024"}}`,
			contains: []string{"start_date"},
		},
		{
			name:     "bad duration",
			config:   `{"email": {"check_interval": "soon"}}`,
			data:     `{}`,
			contains: []string{"解析Config失败"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeJSON(t, dir, "config.json", tt.config)
			writeJSON(t, dir, "dataconfig.json", tt.data)

			_, _, err := loadConfigs(dir, "config.json", "dataconfig.json")
			if err == nil {
				t.Fatal("expected error")
			}
			for _, s := range tt.contains {
				if !strings.Contains(err.Error(), s) {
					t.Errorf("error %q does not mention %q", err, s)
				}
			}
		})
	}
}

func TestLoadConfigsMissingFile(t *testing.T) {
	_, _, err := loadConfigs(t.TempDir(), "config.json", "dataconfig.json")
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}

func TestDurationJSON(t *testing.T) {
	d := Duration(2*time.Minute + 30*time.Second)
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `"2m30s"` {
		t.Fatalf("Marshal = %s", b)
	}
	var back Duration
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back != d {
		t.Fatalf("Unmarshal = %v", time.Duration(back))
	}
}

func TestLoadSampleConfig(t *testing.T) {
	cfg, dcfg, err := loadConfigs(".", "config.json", "dataconfig.json")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.OrdersPath() != filepath.Join("data", "generated_orders.csv") {
		t.Errorf("OrdersPath = %q", cfg.OrdersPath())
	}
	// 同名映射不产生重命名
	if m := dcfg.ColumnMap(); len(m) != 0 {
		t.Errorf("ColumnMap = %v", m)
	}
	if !dcfg.Generate.Enabled || dcfg.Generate.Seed != 42 {
		t.Errorf("generate = %+v", dcfg.Generate)
	}
}
