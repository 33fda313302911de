package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Upload     UploadConfig     `mapstructure:"upload"`
	Pipeline   PipelineConfig   `mapstructure:"pipeline"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Models     ModelsConfig     `mapstructure:"models"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	Mode         string        `mapstructure:"mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// PipelineConfig 抠图流水线参数
type PipelineConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	ModelSelection string        `mapstructure:"model_selection"` // classifier, pixel_count
	FallbackModel  string        `mapstructure:"fallback_model"`
}

// ClassifierConfig 主体分类的经验阈值
type ClassifierConfig struct {
	AnalysisSize         int     `mapstructure:"analysis_size"`
	CascadePath          string  `mapstructure:"cascade_path"`
	ScaleFactor          float64 `mapstructure:"scale_factor"`
	MinNeighbors         int     `mapstructure:"min_neighbors"`
	MinFaceSize          int     `mapstructure:"min_face_size"`
	CannyLow             float32 `mapstructure:"canny_low"`
	CannyHigh            float32 `mapstructure:"canny_high"`
	EdgeDensityThreshold float64 `mapstructure:"edge_density_threshold"`
}

type ModelsConfig struct {
	Dir            string `mapstructure:"dir"`
	DownloadURL    string `mapstructure:"download_url"`
	RuntimeLibrary string `mapstructure:"runtime_library"`
	Device         string `mapstructure:"device"`           // auto, cpu, cuda
	GPUMemLimitMB  uint64 `mapstructure:"gpu_mem_limit_mb"` // 0 表示不限制
}

type MonitorConfig struct {
	StatusSchedule string `mapstructure:"status_schedule"`
	MaxHeapMB      uint64 `mapstructure:"max_heap_mb"`
}

// Load 从 YAML 文件加载配置，环境变量 MATTE_* 优先
func Load(configPath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MATTE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 如果加载失败，返回默认配置
		return getDefaultConfig()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", d.Pipeline.QueueTimeout)
	v.SetDefault("pipeline.model_selection", d.Pipeline.ModelSelection)
	v.SetDefault("pipeline.fallback_model", d.Pipeline.FallbackModel)

	v.SetDefault("classifier.analysis_size", d.Classifier.AnalysisSize)
	v.SetDefault("classifier.cascade_path", d.Classifier.CascadePath)
	v.SetDefault("classifier.scale_factor", d.Classifier.ScaleFactor)
	v.SetDefault("classifier.min_neighbors", d.Classifier.MinNeighbors)
	v.SetDefault("classifier.min_face_size", d.Classifier.MinFaceSize)
	v.SetDefault("classifier.canny_low", d.Classifier.CannyLow)
	v.SetDefault("classifier.canny_high", d.Classifier.CannyHigh)
	v.SetDefault("classifier.edge_density_threshold", d.Classifier.EdgeDensityThreshold)

	v.SetDefault("models.dir", d.Models.Dir)
	v.SetDefault("models.download_url", d.Models.DownloadURL)
	v.SetDefault("models.runtime_library", d.Models.RuntimeLibrary)
	v.SetDefault("models.device", d.Models.Device)
	v.SetDefault("models.gpu_mem_limit_mb", d.Models.GPUMemLimitMB)

	v.SetDefault("monitor.status_schedule", d.Monitor.StatusSchedule)
	v.SetDefault("monitor.max_heap_mb", d.Monitor.MaxHeapMB)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         ":5000",
			Mode:         "debug",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      16 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/webp", "image/bmp"},
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:  2,
			QueueTimeout:   60 * time.Second,
			ModelSelection: "classifier",
			FallbackModel:  "u2netp",
		},
		Classifier: ClassifierConfig{
			AnalysisSize:         256,
			CascadePath:          "haarcascade_frontalface_default.xml",
			ScaleFactor:          1.3,
			MinNeighbors:         5,
			MinFaceSize:          20,
			CannyLow:             50,
			CannyHigh:            150,
			EdgeDensityThreshold: 0.15,
		},
		Models: ModelsConfig{
			Dir:            "./models",
			DownloadURL:    "https://github.com/danielgatis/rembg/releases/download/v0.0.0",
			RuntimeLibrary: "",
			Device:         "auto",
			GPUMemLimitMB:  0,
		},
		Monitor: MonitorConfig{
			StatusSchedule: "@every 1m",
			MaxHeapMB:      2048,
		},
	}
}
