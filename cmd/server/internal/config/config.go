package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 统一配置结构
// 优先级: 命令行参数 > YAML 配置文件 > 环境变量 > 默认值
type Config struct {
	Server        ServerConfig       `yaml:"server"`
	Data          DataConfig         `yaml:"data"`
	Log           LogConfig          `yaml:"log"`
	Training      TrainingConfig     `yaml:"training"`
	Collaborators CollaboratorConfig `yaml:"collaborators"`
	Hub           HubConfig          `yaml:"hub"`
	Frontend      FrontendConfig     `yaml:"frontend"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Env  string `yaml:"env"` // dev, staging, production
	Port string `yaml:"port"`
}

// DataConfig 数据目录配置
type DataConfig struct {
	OutPath       string `yaml:"out_path"`        // 训练输出根目录 (dataset/run/ready)
	DatasetsDir   string `yaml:"datasets_dir"`    // 命名数据集目录
	BaseModelsDir string `yaml:"base_models_dir"` // base_models/{xtts,dvae}/<version>
	UploadsDir    string `yaml:"uploads_dir"`     // 上传音频暂存目录
	OutputsDir    string `yaml:"outputs_dir"`     // 推理生成的临时 wav
	AuditLogFile  string `yaml:"audit_log_file"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
	File   string `yaml:"file"`   // 可选，按大小轮转
}

// TrainingConfig 训练默认参数（可被 UI 请求覆盖）
type TrainingConfig struct {
	NumEpochs      int     `yaml:"num_epochs"`
	BatchSize      int     `yaml:"batch_size"`
	GradAccum      int     `yaml:"grad_acumm"`
	MaxAudioLength int     `yaml:"max_audio_length"` // 秒
	WhisperModel   string  `yaml:"whisper_model"`
	SpeakerName    string  `yaml:"speaker_name"`
	EvalFraction   float64 `yaml:"eval_fraction"`
	MinFreeDiskGB  float64 `yaml:"min_free_disk_gb"`
}

// CollaboratorConfig 外部协作进程配置
type CollaboratorConfig struct {
	// Commands maps logical names (whisper, ffmpeg, demucs, trainer, checkpoint, inference)
	// to a program plus fixed leading arguments.
	Commands       map[string][]string `yaml:"commands"`
	Env            map[string]string   `yaml:"env"`
	DefaultTimeout time.Duration       `yaml:"default_timeout"`
	WhisperURL     string              `yaml:"whisper_url"` // 为空时只使用本地 whisper 程序
	WhisperDevice  string              `yaml:"whisper_device"`
	ComputeType    string              `yaml:"compute_type"`
	HealthInterval time.Duration       `yaml:"health_interval"`
}

// HubConfig 数据集托管服务配置
type HubConfig struct {
	Endpoint      string `yaml:"endpoint"`
	Token         string `yaml:"token"`
	BaseModelRepo string `yaml:"base_model_repo"`
}

// FrontendConfig 前端配置
type FrontendConfig struct {
	DistDir string `yaml:"dist_dir"`
}

// Collaborator command names.
const (
	CommandWhisper    = "whisper"
	CommandFFmpeg     = "ffmpeg"
	CommandDemucs     = "demucs"
	CommandTrainer    = "trainer"
	CommandCheckpoint = "checkpoint"
	CommandInference  = "inference"
)

// DefaultCommands 默认协作进程命令
func DefaultCommands() map[string][]string {
	return map[string][]string{
		CommandWhisper:    {"python3", "scripts/whisper_cli.py"},
		CommandFFmpeg:     {"ffmpeg"},
		CommandDemucs:     {"python3", "-m", "demucs.separate"},
		CommandTrainer:    {"python3", "scripts/xtts_train.py"},
		CommandCheckpoint: {"python3", "scripts/xtts_checkpoint.py"},
		CommandInference:  {"python3", "scripts/xtts_worker.py"},
	}
}

// LoadConfig 从环境变量加载配置，path 非空时叠加 YAML 文件
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Env:  getEnv("ENV", "dev"),
			Port: getEnv("PORT", "5003"),
		},
		Data: DataConfig{
			OutPath:       getEnv("OUT_PATH", "./finetune_models"),
			DatasetsDir:   getEnv("DATASETS_DIR", "./datasets"),
			BaseModelsDir: getEnv("BASE_MODELS_DIR", "./base_models"),
			UploadsDir:    getEnv("UPLOADS_DIR", "./uploads"),
			OutputsDir:    getEnv("OUTPUTS_DIR", filepath.Join(os.TempDir(), "xtts-webui")),
			AuditLogFile:  getEnv("AUDIT_LOG_FILE", "./logs/audit.log"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "console"),
			File:   getEnv("LOG_FILE", ""),
		},
		Training: TrainingConfig{
			NumEpochs:      getEnvInt("NUM_EPOCHS", 6),
			BatchSize:      getEnvInt("BATCH_SIZE", 2),
			GradAccum:      getEnvInt("GRAD_ACUMM", 1),
			MaxAudioLength: getEnvInt("MAX_AUDIO_LENGTH", 11),
			WhisperModel:   getEnv("WHISPER_MODEL", "large-v3"),
			SpeakerName:    getEnv("SPEAKER_NAME", "coqui"),
			EvalFraction:   getEnvFloat("EVAL_FRACTION", 0.15),
			MinFreeDiskGB:  getEnvFloat("MIN_FREE_DISK_GB", 5),
		},
		Collaborators: CollaboratorConfig{
			Commands:       DefaultCommands(),
			Env:            map[string]string{},
			DefaultTimeout: 0,
			WhisperURL:     getEnv("WHISPER_API_URL", ""),
			WhisperDevice:  getEnv("WHISPER_DEVICE", ""),
			ComputeType:    getEnv("WHISPER_COMPUTE_TYPE", ""),
			HealthInterval: 5 * time.Minute,
		},
		Hub: HubConfig{
			Endpoint:      getEnv("HF_ENDPOINT", "https://huggingface.co"),
			Token:         getEnv("HUGGINGFACE_TOKEN", getEnv("HF_TOKEN", "")),
			BaseModelRepo: getEnv("XTTS_BASE_MODEL_REPO", "coqui/XTTS-v2"),
		},
		Frontend: FrontendConfig{
			DistDir: getEnv("FRONTEND_DIST_DIR", "./frontend/dist"),
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// commands 只覆盖文件中出现的条目
		defaults := cfg.Collaborators.Commands
		cfg.Collaborators.Commands = nil
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		for name, argv := range cfg.Collaborators.Commands {
			defaults[name] = argv
		}
		cfg.Collaborators.Commands = defaults
	}

	return cfg, nil
}

// ValidateConfig 验证配置的有效性
func ValidateConfig(cfg *Config) error {
	var errors []string

	// 1. 端口验证
	if port, err := strconv.Atoi(cfg.Server.Port); err != nil || port < 1 || port > 65535 {
		errors = append(errors, fmt.Sprintf("invalid PORT value: %s (must be 1-65535)", cfg.Server.Port))
	}

	// 2. 日志级别验证
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Log.Level] {
		errors = append(errors, fmt.Sprintf("invalid LOG_LEVEL: %s (must be: debug, info, warn, error)", cfg.Log.Level))
	}

	// 3. 日志格式验证
	validLogFormats := map[string]bool{"console": true, "json": true}
	if !validLogFormats[cfg.Log.Format] {
		errors = append(errors, fmt.Sprintf("invalid LOG_FORMAT: %s (must be: console, json)", cfg.Log.Format))
	}

	// 4. 环境验证
	validEnvs := map[string]bool{"dev": true, "development": true, "staging": true, "production": true}
	if !validEnvs[cfg.Server.Env] {
		errors = append(errors, fmt.Sprintf("invalid ENV: %s (must be: dev, development, staging, production)", cfg.Server.Env))
	}

	// 5. 训练参数
	if cfg.Training.NumEpochs < 1 {
		errors = append(errors, fmt.Sprintf("num_epochs must be >= 1, got %d", cfg.Training.NumEpochs))
	}
	if cfg.Training.BatchSize < 1 {
		errors = append(errors, fmt.Sprintf("batch_size must be >= 1, got %d", cfg.Training.BatchSize))
	}
	if cfg.Training.GradAccum < 1 {
		errors = append(errors, fmt.Sprintf("grad_acumm must be >= 1, got %d", cfg.Training.GradAccum))
	}
	if cfg.Training.MaxAudioLength < 1 {
		errors = append(errors, fmt.Sprintf("max_audio_length must be >= 1, got %d", cfg.Training.MaxAudioLength))
	}
	if cfg.Training.EvalFraction <= 0 || cfg.Training.EvalFraction >= 1 {
		errors = append(errors, fmt.Sprintf("eval_fraction must be in (0,1), got %g", cfg.Training.EvalFraction))
	}

	// 6. 目录
	for name, dir := range map[string]string{
		"out_path":        cfg.Data.OutPath,
		"datasets_dir":    cfg.Data.DatasetsDir,
		"base_models_dir": cfg.Data.BaseModelsDir,
	} {
		if strings.TrimSpace(dir) == "" {
			errors = append(errors, fmt.Sprintf("%s cannot be empty", name))
		}
	}

	// 7. 协作进程命令
	for _, name := range []string{CommandWhisper, CommandFFmpeg, CommandTrainer, CommandCheckpoint, CommandInference} {
		if argv := cfg.Collaborators.Commands[name]; len(argv) == 0 || argv[0] == "" {
			errors = append(errors, fmt.Sprintf("collaborators.commands.%s cannot be empty", name))
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// IsProduction 判断是否为生产环境
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production"
}

// GetServerAddr 获取服务器监听地址
func (c *Config) GetServerAddr() string {
	return ":" + c.Server.Port
}

// PrintConfig 打印配置（脱敏）
func (c *Config) PrintConfig() string {
	return fmt.Sprintf(`Configuration Loaded:
  Environment: %s
  Server Port: %s
  Data Directories:
    - Output: %s
    - Datasets: %s
    - Base Models: %s
    - Audit Log: %s
  Logging:
    - Level: %s
    - Format: %s
  Training Defaults:
    - Epochs: %d, Batch: %d, Grad Accum: %d, Max Audio: %ds
  Collaborators:
    - Whisper URL: %s
    - Commands: %v
  Hub:
    - Endpoint: %s
    - Token: %s`,
		c.Server.Env,
		c.Server.Port,
		c.Data.OutPath,
		c.Data.DatasetsDir,
		c.Data.BaseModelsDir,
		c.Data.AuditLogFile,
		c.Log.Level,
		c.Log.Format,
		c.Training.NumEpochs, c.Training.BatchSize, c.Training.GradAccum, c.Training.MaxAudioLength,
		orNotSet(c.Collaborators.WhisperURL),
		c.Collaborators.Commands,
		c.Hub.Endpoint,
		maskSecret(c.Hub.Token),
	)
}

// 辅助函数

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return v
	}
	return defaultValue
}

func orNotSet(v string) string {
	if v == "" {
		return "<not set>"
	}
	return v
}

// maskSecret 对敏感信息进行脱敏
func maskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}
