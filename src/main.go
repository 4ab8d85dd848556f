package main

import (
	"DemandForecast/src/config"
	"DemandForecast/src/datasource/email"
	"DemandForecast/src/datasource/file"
	"DemandForecast/src/generator"
	"DemandForecast/src/processor"
	"DemandForecast/src/storage"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron"
)

const (
	jsonFolder   = "./config"
	jsonFile     = "config.json"
	dataJsonFile = "dataconfig.json"

	rotateSpec = "@every 1m" // 检查日志大小
)

// app 服务运行时的共享状态
type app struct {
	cfg      *config.Config
	dcfg     *config.DataConfig
	logger   *storage.Logger
	pipeline *processor.Pipeline
	store    *processor.FeatureStore

	mailClient  email.MailService
	mailHandler *email.AttachmentHandler

	runMu sync.Mutex // 流水线同一时间只运行一次
}

func newApp(cfg *config.Config, dcfg *config.DataConfig, logger *storage.Logger) *app {
	pipeline := processor.NewPipelineFromConfig(cfg, dcfg)
	pipeline.SetLogger(logger)

	a := &app{
		cfg:      cfg,
		dcfg:     dcfg,
		logger:   logger,
		pipeline: pipeline,
		store:    processor.NewFeatureStore(),
	}
	if cfg.Email.Server != "" {
		a.mailClient = email.NewEmailClient(cfg.Email.Server, cfg.Email.Username, cfg.Email.Password, logger)
		a.mailHandler = email.NewAttachmentHandler(cfg.Email.TargetSubject, cfg.DataDir, logger)
	}
	return a
}

// serviceMode 配置了任何触发方式就常驻运行
func (a *app) serviceMode() bool {
	return a.cfg.Schedule != "" || a.cfg.Watch || a.cfg.Email.Server != "" || a.cfg.WebAddr != ""
}

func main() {
	cfg, dcfg, err := config.LoadConfig(jsonFolder, jsonFile, dataJsonFile)
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	// 初始化日志系统
	logger, err := storage.NewLogger(cfg.LogName)
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}

	a := newApp(cfg, dcfg, logger)

	if dcfg.Generate.Enabled {
		if err := a.generate(); err != nil {
			logger.Fatal("生成模拟数据失败: " + err.Error())
			logger.Close()
			os.Exit(1)
		}
	}

	runErr := a.runOnce("启动")
	if !a.serviceMode() {
		logger.Close()
		if runErr != nil {
			os.Exit(1)
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := a.startCron()
	if err != nil {
		logger.Fatal("创建定时任务失败: " + err.Error())
		logger.Close()
		os.Exit(1)
	}
	defer c.Stop()

	if cfg.Watch {
		go a.watch(ctx)
	}

	var srv *http.Server
	if cfg.WebAddr != "" {
		srv = a.startWebUI()
	}

	logger.Info("服务已启动，按Ctrl+C退出")
	waitForShutdown(logger, cancel, srv)
}

// generate 生成模拟的订单、配送伙伴和日历表
func (a *app) generate() error {
	g, err := generator.New(a.dcfg.Generate)
	if err != nil {
		return err
	}
	paths, err := g.WriteAll(a.cfg.DataDir)
	if err != nil {
		return err
	}
	a.logger.Info(fmt.Sprintf("已生成模拟数据: %v", paths))
	return nil
}

// runOnce 执行一次流水线、导出、汇总并按配置发送邮件
func (a *app) runOnce(trigger string) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	t1 := time.Now()
	a.logger.Info(fmt.Sprintf("开始处理(触发: %s)...", trigger))

	df, err := a.pipeline.Run(a.cfg.OrdersPath(), a.cfg.CalendarPath())
	if err != nil {
		a.logger.Error("预处理失败: " + err.Error())
		return err
	}

	summary, err := processor.CalculateMetrics(df)
	if err != nil {
		a.logger.Error("统计失败: " + err.Error())
		return err
	}
	a.logger.Info(summary.String())

	codes := a.pipeline.CodeTables()
	if err := processor.Export(df, codes, a.cfg.OutputFile); err != nil {
		a.logger.Error("导出失败: " + err.Error())
		return err
	}
	a.logger.Info("特征表已保存到: " + a.cfg.OutputFile)

	a.checkCapacity(summary)
	a.store.Set(df, codes, summary)

	if a.cfg.SendEmail.Server != "" {
		if err := email.SendReport(a.cfg, summary.String(), a.cfg.OutputFile); err != nil {
			a.logger.Error(err.Error())
		} else {
			a.logger.Info("特征表邮件已发送")
		}
	}

	a.logger.Info(fmt.Sprintf("数据处理时间: %v", time.Since(t1)))
	return nil
}

// checkCapacity 比较配送伙伴总运力与日均总量，伙伴表不存在时跳过
func (a *app) checkCapacity(summary processor.Summary) {
	path := a.cfg.PartnersPath()
	if _, err := os.Stat(path); err != nil {
		return
	}

	reader := file.NewReader(file.Options{
		SheetName: a.cfg.SheetName,
		Encoding:  a.cfg.Encoding,
		Columns:   a.dcfg.ColumnMap(),
	})
	partners, err := reader.LoadPartners(path)
	if err != nil {
		a.logger.Warning("读取配送伙伴表失败: " + err.Error())
		return
	}

	stats := file.SummarizePartners(partners)
	a.logger.Info(fmt.Sprintf("配送伙伴%d个 总运力=%d 平均准时率=%s%% 平均单价=%s",
		stats.Count, stats.TotalCapacity, stats.AvgOnTime.StringFixed(2), stats.AvgCost.StringFixed(2)))
	if summary.DailyMean > float64(stats.TotalCapacity) {
		a.logger.Warning(fmt.Sprintf("日均总量 %.2f 超过配送总运力 %d", summary.DailyMean, stats.TotalCapacity))
	}
}

// startCron 注册定时运行、邮箱检查和日志轮转
func (a *app) startCron() (*cron.Cron, error) {
	c := cron.New()

	if a.cfg.Schedule != "" {
		if err := c.AddFunc(a.cfg.Schedule, func() { _ = a.runOnce("定时") }); err != nil {
			return nil, fmt.Errorf("schedule %q: %w", a.cfg.Schedule, err)
		}
	}

	if a.mailClient != nil {
		interval := time.Duration(a.cfg.Email.CheckInterval).String() // 例如 "5m0s"
		cronSpec := fmt.Sprintf("@every %s", interval)
		if err := c.AddFunc(cronSpec, a.checkMail); err != nil {
			return nil, err
		}
		a.logger.Info(fmt.Sprintf("邮件监控已启动(检查间隔: %v)", interval))
	}

	if err := c.AddFunc(rotateSpec, func() {
		if err := a.logger.CheckRotate(a.cfg.LogMaxSize); err != nil {
			a.logger.Error("日志轮转失败: " + err.Error())
		}
	}); err != nil {
		return nil, err
	}

	c.Start()
	return c, nil
}

// checkMail 保存目标邮件的附件；未开启文件监听时直接重新运行
func (a *app) checkMail() {
	_, saved, err := email.CheckAndProcessEmails(a.mailClient, a.mailHandler, a.cfg.Email.TargetSubject, a.logger)
	if err != nil {
		a.logger.Error("检查处理邮件失败: " + err.Error())
		return
	}
	if len(saved) > 0 && !a.cfg.Watch {
		_ = a.runOnce("邮件")
	}
}

// watch 订单表或日历表写入后重新运行，同一批变化只运行一次
func (a *app) watch(ctx context.Context) {
	monitor, err := file.NewFileMonitor(a.cfg.DataDir, a.cfg.OrdersFile, a.cfg.CalendarFile)
	if err != nil {
		a.logger.Error("创建文件监控失败: " + err.Error())
		return
	}
	defer monitor.Close()

	a.logger.Info("开始监控目录: " + a.cfg.DataDir)
	err = monitor.Watch(ctx, func(names []string) {
		a.logger.Info(fmt.Sprintf("检测到文件变化: %v", names))
		_ = a.runOnce("文件变化")
	})
	if err != nil {
		a.logger.Error("文件监控出错: " + err.Error())
	}
}

// webHandler /logs 实时日志，/summary 最近一次运行的统计
func (a *app) webHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")

		// 创建日志订阅通道
		logChan := a.logger.Subscribe()
		defer a.logger.Unsubscribe(logChan)

		flusher, _ := w.(http.Flusher)
		if flusher != nil {
			flusher.Flush()
		}
		for {
			select {
			case msg, ok := <-logChan:
				if !ok {
					return
				}
				// 写入失败(如客户端断开连接)则退出
				if _, err := fmt.Fprint(w, msg); err != nil {
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	})

	mux.HandleFunc("/summary", func(w http.ResponseWriter, r *http.Request) {
		summary, ok := a.store.Summary()
		if !ok {
			http.Error(w, "尚未成功运行", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		if err := json.NewEncoder(w).Encode(summary); err != nil {
			a.logger.Error("写入summary失败: " + err.Error())
		}
	})

	return mux
}

// startWebUI 在 web_addr 上启动日志和统计页面
func (a *app) startWebUI() *http.Server {
	srv := &http.Server{Addr: a.cfg.WebAddr, Handler: a.webHandler()}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Web服务出错: " + err.Error())
		}
	}()
	a.logger.Info("Web界面已启动: " + a.cfg.WebAddr)
	return srv
}

// waitForShutdown SIGHUP 重新打开日志文件，SIGINT/SIGTERM 退出
func waitForShutdown(logger *storage.Logger, cancel context.CancelFunc, srv *http.Server) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for sig := range sigChan {
		if sig == syscall.SIGHUP {
			if err := logger.Reopen(""); err != nil {
				log.Println("重新打开日志失败:", err)
			} else {
				logger.Info("日志文件已重新打开")
			}
			continue
		}

		logger.Info("Received signal: " + sig.String() + ", shutting down...")
		cancel()
		if srv != nil {
			ctx, done := context.WithTimeout(context.Background(), 5*time.Second)
			_ = srv.Shutdown(ctx)
			done()
		}
		logger.Close()
		return
	}
}
