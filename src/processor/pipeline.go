// pipeline.go
package processor

import (
	"fmt"
	"path/filepath"
	"strings"

	"DemandForecast/src/config"
	"DemandForecast/src/datasource/file"
	"DemandForecast/src/storage"
	"DemandForecast/src/utils"

	"github.com/go-gota/gota/dataframe"
)

type step struct {
	name string
	proc DataProcess
}

// Pipeline 读取合并 -> 滞后/滑动特征 -> 分类编码，顺序固定
type Pipeline struct {
	reader  *file.Reader
	encoder *CategoricalEncoder
	steps   []step
	logger  *storage.Logger
}

func NewPipeline(reader *file.Reader, lags []int, window int) *Pipeline {
	encoder := NewCategoricalEncoder()
	return &Pipeline{
		reader:  reader,
		encoder: encoder,
		steps: []step{
			{name: "滞后特征", proc: NewLagFeatures(lags, window)},
			{name: "分类编码", proc: encoder},
		},
	}
}

// NewPipelineFromConfig 按dataconfig.json的列映射、滞后期和窗口创建流水线
func NewPipelineFromConfig(cfg *config.Config, dcfg *config.DataConfig) *Pipeline {
	reader := file.NewReader(file.Options{
		SheetName: cfg.SheetName,
		Encoding:  cfg.Encoding,
		Columns:   dcfg.ColumnMap(),
	})
	return NewPipeline(reader, dcfg.Lags, dcfg.RollingWindow)
}

func (p *Pipeline) SetLogger(logger *storage.Logger) {
	p.logger = logger
}

// Run 执行完整流水线并返回特征表，不写任何文件
func (p *Pipeline) Run(orderPath, calendarPath string) (dataframe.DataFrame, error) {
	df, err := p.reader.LoadData(orderPath, calendarPath)
	if err != nil {
		return dataframe.DataFrame{}, fmt.Errorf("读取合并: %w", err)
	}
	p.logger.Infof("读取合并完成: %d行 %d列", df.Nrow(), df.Ncol())

	for _, s := range p.steps {
		if err := s.proc.ColCalculation(&df); err != nil {
			return dataframe.DataFrame{}, fmt.Errorf("%s: %w", s.name, err)
		}
		p.logger.Infof("%s完成: %d行 %d列", s.name, df.Nrow(), df.Ncol())
	}
	return df, nil
}

// CodeTables 最近一次运行的编码表
func (p *Pipeline) CodeTables() []CodeTable {
	return p.encoder.Tables()
}

// PreprocessForecastingData 使用默认配置(窗口7)一次性完成预处理
func PreprocessForecastingData(orderPath, calendarPath string, lags []int) (dataframe.DataFrame, error) {
	if lags == nil {
		lags = config.DefaultLags
	}
	return NewPipeline(file.NewReader(file.Options{}), lags, config.DefaultRollingWindow).Run(orderPath, calendarPath)
}

// Export 按扩展名写出特征表和编码表
// .xlsx 写入 Sheet1 和 codes 两个工作表；.csv 另写 <name>_codes.csv
func Export(df dataframe.DataFrame, codes []CodeTable, path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".xlsx":
		frames := []utils.NamedFrame{{Name: "Sheet1", DF: df}}
		if len(codes) > 0 {
			frames = append(frames, utils.NamedFrame{Name: "codes", DF: CodesFrame(codes)})
		}
		return utils.SaveSheetsToExcel(path, frames...)
	case ".csv":
		if err := utils.SaveToCSV(df, path); err != nil {
			return err
		}
		if len(codes) == 0 {
			return nil
		}
		return utils.SaveToCSV(CodesFrame(codes), CodesPath(path))
	default:
		return fmt.Errorf("不支持的导出格式: %s", path)
	}
}

// CodesPath csv导出时编码表的路径
func CodesPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_codes" + ext
}
