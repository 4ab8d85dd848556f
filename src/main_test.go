package main

import (
	"DemandForecast/src/config"
	"DemandForecast/src/generator"
	"DemandForecast/src/processor"
	"DemandForecast/src/storage"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func newTestApp(t *testing.T) (*app, *bytes.Buffer) {
	t.Helper()
	dir := t.TempDir()

	cfg := &config.Config{
		DataDir:      filepath.Join(dir, "data"),
		OrdersFile:   generator.OrdersFile,
		CalendarFile: generator.CalendarFile,
		PartnersFile: generator.PartnersFile,
		OutputFile:   filepath.Join(dir, "out", "features.csv"),
		LogMaxSize:   config.DefaultLogMaxSize,
	}
	dcfg := &config.DataConfig{
		Columns:       map[string]string{},
		Lags:          []int{1, 3, 7},
		RollingWindow: 7,
		Generate: config.GenerateConfig{
			Enabled:   true,
			NumSKUs:   2,
			NumZips:   2,
			NumDays:   15,
			Partners:  3,
			StartDate: "2024-11-01",
			Seed:      1,
		},
	}

	var buf bytes.Buffer
	return newApp(cfg, dcfg, storage.NewWriterLogger(&buf)), &buf
}

func TestRunOnce(t *testing.T) {
	a, buf := newTestApp(t)
	if a.serviceMode() {
		t.Fatal("no trigger configured, should not be service mode")
	}

	if err := a.generate(); err != nil {
		t.Fatal(err)
	}
	if err := a.runOnce("测试"); err != nil {
		t.Fatalf("runOnce: %v\n%s", err, buf.String())
	}

	if _, err := os.Stat(a.cfg.OutputFile); err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if _, err := os.Stat(processor.CodesPath(a.cfg.OutputFile)); err != nil {
		t.Fatalf("codes output missing: %v", err)
	}

	summary, ok := a.store.Summary()
	if !ok {
		t.Fatal("store not updated")
	}
	// 2 SKU x 2 邮编，每组15天保留下标7..14
	if summary.Rows != 2*2*8 || summary.Groups != 4 {
		t.Errorf("summary = %+v", summary)
	}

	logs := buf.String()
	for _, want := range []string{"读取合并完成", "分类编码完成", "配送伙伴3个", "数据处理时间"} {
		if !strings.Contains(logs, want) {
			t.Errorf("log missing %q:\n%s", want, logs)
		}
	}
}

func TestRunOnceMissingInput(t *testing.T) {
	a, buf := newTestApp(t)
	if err := a.runOnce("测试"); err == nil {
		t.Fatal("expected error without input files")
	}
	if !strings.Contains(buf.String(), "ERROR: 预处理失败") {
		t.Errorf("log = %s", buf.String())
	}
	if _, ok := a.store.Summary(); ok {
		t.Error("failed run should not update the store")
	}
}

func TestWebSummary(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.webHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/summary")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status before run = %d", resp.StatusCode)
	}

	if err := a.generate(); err != nil {
		t.Fatal(err)
	}
	if err := a.runOnce("测试"); err != nil {
		t.Fatal(err)
	}

	resp, err = http.Get(srv.URL + "/summary")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var got processor.Summary
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Rows != 32 || got.StartDate != "2024-11-08" {
		t.Errorf("summary = %+v", got)
	}
}

func TestWebLogs(t *testing.T) {
	a, _ := newTestApp(t)
	srv := httptest.NewServer(a.webHandler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/logs", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	// 订阅建立后才能收到日志，持续写入直到读到一行
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				a.logger.Info("ping")
			}
		}
	}()

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(line, "INFO: ping") {
		t.Errorf("line = %q", line)
	}
}
