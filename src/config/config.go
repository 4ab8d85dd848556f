package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// 默认值
const (
	DefaultRollingWindow = 7
	DefaultLogName       = "app.log"
	DefaultLogMaxSize    = "10 * 1024 * 1024"
	DefaultOutputFile    = "features.csv"
)

// DefaultLags 默认滞后期
var DefaultLags = []int{1, 3, 7}

// Config 结构体定义了应用程序的配置结构
type Config struct {
	// 收件箱：输入数据表以附件形式到达
	Email struct {
		Server        string   `json:"server"`         // IMAP服务器地址(含端口)
		Username      string   `json:"username"`       // 邮箱用户名
		Password      string   `json:"password"`       // 邮箱密码/授权码
		TargetSubject string   `json:"target_subject"` // 需要匹配的邮件主题
		CheckInterval Duration `json:"check_interval"` // 检查新邮件的间隔时间
	} `json:"email"`

	// 发件：把导出的特征表作为附件发出
	SendEmail struct {
		Server   string   `json:"server"`   // SMTP服务器地址
		Username string   `json:"username"` // 发件邮箱
		Password string   `json:"password"` // 密码/授权码
		To       []string `json:"to"`       // 收件人
		Subject  string   `json:"subject"`  // 邮件主题
	} `json:"send_email"`

	DataDir      string `json:"data_dir"`      // 数据目录
	OrdersFile   string `json:"orders_file"`   // 订单表(相对data_dir)
	CalendarFile string `json:"calendar_file"` // 日历表
	PartnersFile string `json:"partners_file"` // 配送伙伴表
	OutputFile   string `json:"output_file"`   // 特征表输出路径(.csv/.xlsx)
	SheetName    string `json:"sheet_name"`    // xlsx输入的工作表名，空则取第一个
	Encoding     string `json:"encoding"`      // csv输入编码: utf-8/gbk

	LogName    string `json:"log_name"`
	LogMaxSize string `json:"log_max_size"`

	Schedule string `json:"schedule"` // cron表达式，空则不定时
	Watch    bool   `json:"watch"`    // 监听输入文件变化
	WebAddr  string `json:"web_addr"` // 日志/摘要HTTP地址，空则不启动
}

// GenerateConfig 模拟数据生成参数
type GenerateConfig struct {
	Enabled   bool   `json:"enabled"`
	NumSKUs   int    `json:"num_skus"`
	NumZips   int    `json:"num_zips"`
	NumDays   int    `json:"num_days"`
	Partners  int    `json:"partners"`
	StartDate string `json:"start_date"`
	Seed      int64  `json:"seed"`
}

// DataConfig 数据相关配置：列名映射、特征参数
type DataConfig struct {
	Columns       map[string]string `json:"columns"` // 标准列名 -> 文件中的列名
	Lags          []int             `json:"lags"`
	RollingWindow int               `json:"rolling_window"`
	Generate      GenerateConfig    `json:"generate"`
}

var (
	once               sync.Once
	instance           *Config
	dataConfigInstance *DataConfig
	mu                 sync.RWMutex
)

// LoadConfig 加载配置(进程内只加载一次)
func LoadConfig(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	var err error
	once.Do(func() {
		instance, dataConfigInstance, err = loadConfigs(jsonFolder, jsonFile, dataJsonFile)
	})
	return instance, dataConfigInstance, err
}

func loadConfigs(jsonFolder, jsonFile, dataJsonFile string) (*Config, *DataConfig, error) {
	configFile := filepath.Join(jsonFolder, jsonFile)
	dataConfigFile := filepath.Join(jsonFolder, dataJsonFile)

	configData, err := readFile(configFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	dataConfigData, err := readFile(dataConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("读取数据配置文件失败: %w", err)
	}

	cfgChan := make(chan *Config, 1)
	dcfgChan := make(chan *DataConfig, 1)
	errChan := make(chan error, 2)

	go parseConfig(configData, cfgChan, errChan)
	go parseDataConfig(dataConfigData, dcfgChan, errChan)

	cfg, dcfg, err := waitForResults(cfgChan, dcfgChan, errChan)
	if err != nil {
		return nil, nil, err
	}

	cfg.applyDefaults()
	dcfg.applyDefaults()
	if err := dcfg.Validate(); err != nil {
		return nil, nil, err
	}

	return cfg, dcfg, nil
}

func readFile(filePath string) ([]byte, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("无法读取文件 %s: %w", filePath, err)
	}
	return data, nil
}

func parseConfig(data []byte, resultChan chan<- *Config, errChan chan<- error) {
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		errChan <- fmt.Errorf("解析Config失败: %w", err)
		return
	}
	resultChan <- &cfg
}

func parseDataConfig(data []byte, resultChan chan<- *DataConfig, errChan chan<- error) {
	var dcfg DataConfig
	if err := json.Unmarshal(data, &dcfg); err != nil {
		errChan <- fmt.Errorf("解析DataConfig失败: %w", err)
		return
	}
	resultChan <- &dcfg
}

func waitForResults(
	cfgChan <-chan *Config,
	dcfgChan <-chan *DataConfig,
	errChan <-chan error,
) (*Config, *DataConfig, error) {
	var (
		cfg    *Config
		dcfg   *DataConfig
		errors []error
	)

	for i := 0; i < 2; i++ {
		select {
		case c := <-cfgChan:
			cfg = c
		case d := <-dcfgChan:
			dcfg = d
		case err := <-errChan:
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return nil, nil, combineErrors(errors)
	}

	if cfg == nil || dcfg == nil {
		return nil, nil, fmt.Errorf("部分配置未加载成功")
	}

	return cfg, dcfg, nil
}

func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}

	msg := "配置加载遇到多个错误:"
	for _, err := range errs {
		msg = fmt.Sprintf("%s\n- %v", msg, err)
	}
	return fmt.Errorf("%s", msg)
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "data"
	}
	if c.OrdersFile == "" {
		c.OrdersFile = "generated_orders.csv"
	}
	if c.CalendarFile == "" {
		c.CalendarFile = "calendar_features.csv"
	}
	if c.PartnersFile == "" {
		c.PartnersFile = "delivery_partners.csv"
	}
	if c.OutputFile == "" {
		c.OutputFile = DefaultOutputFile
	}
	if c.LogName == "" {
		c.LogName = DefaultLogName
	}
	if c.LogMaxSize == "" {
		c.LogMaxSize = DefaultLogMaxSize
	}
	if c.Email.CheckInterval == 0 {
		c.Email.CheckInterval = Duration(5 * time.Minute)
	}
}

// OrdersPath 订单表完整路径
func (c *Config) OrdersPath() string { return c.dataPath(c.OrdersFile) }

// CalendarPath 日历表完整路径
func (c *Config) CalendarPath() string { return c.dataPath(c.CalendarFile) }

// PartnersPath 配送伙伴表完整路径
func (c *Config) PartnersPath() string { return c.dataPath(c.PartnersFile) }

func (c *Config) dataPath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.DataDir, name)
}

func (dc *DataConfig) applyDefaults() {
	if dc.Columns == nil {
		dc.Columns = make(map[string]string)
	}
	if dc.Lags == nil {
		dc.Lags = append([]int(nil), DefaultLags...)
	}
	if dc.RollingWindow == 0 {
		dc.RollingWindow = DefaultRollingWindow
	}
	g := &dc.Generate
	if g.NumSKUs == 0 {
		g.NumSKUs = 50
	}
	if g.NumZips == 0 {
		g.NumZips = 10
	}
	if g.NumDays == 0 {
		g.NumDays = 180
	}
	if g.Partners == 0 {
		g.Partners = 15
	}
	if g.StartDate == "" {
		g.StartDate = "2024-11-01"
	}
	if g.Seed == 0 {
		g.Seed = 42
	}
}

// Validate 校验数据配置
func (dc *DataConfig) Validate() error {
	for _, lag := range dc.Lags {
		if lag < 1 {
			return fmt.Errorf("滞后期必须为正整数: %d", lag)
		}
	}
	if dc.RollingWindow < 1 {
		return fmt.Errorf("滚动窗口必须为正整数: %d", dc.RollingWindow)
	}
	if _, err := time.Parse("2006-01-02", dc.Generate.StartDate); err != nil {
		return fmt.Errorf("generate.start_date 格式错误(应为YYYY-MM-DD): %w", err)
	}
	g := dc.Generate
	if g.NumSKUs < 0 || g.NumZips < 0 || g.NumDays < 0 || g.Partners < 0 {
		return fmt.Errorf("generate 数量参数不能为负")
	}
	// 邮编从5位数中不重复抽取
	if g.NumZips > 90000 {
		return fmt.Errorf("generate.num_zips 超出范围: %d", g.NumZips)
	}
	return nil
}

// Duration 是time.Duration的自定义包装类型
// 用于支持JSON序列化和反序列化
type Duration time.Duration

// UnmarshalJSON 实现json.Unmarshaler接口
// 用于从JSON字符串解析Duration
func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalJSON 实现json.Marshaler接口
// 用于将Duration序列化为JSON字符串
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// GetColumn 返回标准列名对应的文件列名，未配置时返回标准列名本身
func (dc *DataConfig) GetColumn(name string) string {
	mu.RLock()
	defer mu.RUnlock()
	if v, ok := dc.Columns[name]; ok && strings.TrimSpace(v) != "" {
		return v
	}
	return name
}

func (dc *DataConfig) SetColumn(name, value string) {
	mu.Lock()
	defer mu.Unlock()
	if dc.Columns == nil {
		dc.Columns = make(map[string]string)
	}
	dc.Columns[name] = value
}

// ColumnMap 返回列名映射的副本(文件列名 -> 标准列名)
func (dc *DataConfig) ColumnMap() map[string]string {
	mu.RLock()
	defer mu.RUnlock()
	m := make(map[string]string, len(dc.Columns))
	for canonical, physical := range dc.Columns {
		if strings.TrimSpace(physical) == "" || physical == canonical {
			continue
		}
		m[physical] = canonical
	}
	return m
}
