// Package orchestrator reports whether the host is ready to run the fine-tuning pipeline.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/houzhh15/xtts-webui/cmd/server/internal/config"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/orchestrator/whisper"
	"github.com/houzhh15/xtts-webui/cmd/server/internal/utils"
)

// EnvironmentStatus 表示整体环境状态
type EnvironmentStatus struct {
	Ready    bool               `json:"ready"`
	Issues   []string           `json:"issues"`
	Warnings []string           `json:"warnings"`
	Details  EnvironmentDetails `json:"details"`
}

// EnvironmentDetails 包含各组件的详细状态
type EnvironmentDetails struct {
	HubToken       TokenStatus           `json:"hub_token"`
	BaseModels     ModelStatus           `json:"base_models"`
	WhisperService ServiceStatus         `json:"whisper_service"`
	Tools          map[string]ToolStatus `json:"tools"`
	Disk           DiskStatus            `json:"disk"`
}

// TokenStatus 表示数据集托管 Token 配置状态
type TokenStatus struct {
	Configured bool   `json:"configured"`
	Masked     string `json:"masked,omitempty"`
}

// ModelStatus 表示本地基础模型状态
type ModelStatus struct {
	Exists   bool     `json:"exists"`
	Path     string   `json:"path"`
	Versions []string `json:"versions,omitempty"`
	Size     string   `json:"size,omitempty"`
}

// ServiceStatus 表示外部服务状态
type ServiceStatus struct {
	Configured bool   `json:"configured"`
	Reachable  bool   `json:"reachable"`
	URL        string `json:"url,omitempty"`
	Latency    string `json:"latency,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ToolStatus 表示命令行工具状态
type ToolStatus struct {
	Available bool   `json:"available"`
	Path      string `json:"path,omitempty"`
	Version   string `json:"version,omitempty"`
	Error     string `json:"error,omitempty"`
}

// DiskStatus 表示输出目录所在磁盘的剩余空间
type DiskStatus struct {
	Path    string  `json:"path"`
	FreeGB  float64 `json:"free_gb"`
	MinFree float64 `json:"min_free_gb"`
	Error   string  `json:"error,omitempty"`
}

// requiredTools 缺失时环境不可用；其余工具缺失仅产生警告
var requiredTools = map[string]bool{
	config.CommandFFmpeg:     true,
	config.CommandTrainer:    true,
	config.CommandCheckpoint: true,
	config.CommandInference:  true,
}

// CheckEnvironment 执行完整的环境检查
func CheckEnvironment(ctx context.Context, cfg *config.Config) *EnvironmentStatus {
	status := &EnvironmentStatus{
		Ready:    true,
		Issues:   []string{},
		Warnings: []string{},
		Details:  EnvironmentDetails{Tools: map[string]ToolStatus{}},
	}

	// 1. 检查数据集托管 Token（仅上传和下载基础模型需要）
	if cfg.Hub.Token == "" {
		status.Warnings = append(status.Warnings, "HUGGINGFACE_TOKEN 未配置，无法上传数据集")
	} else {
		status.Details.HubToken = TokenStatus{Configured: true, Masked: maskToken(cfg.Hub.Token)}
	}

	// 2. 检查基础模型目录
	xttsRoot := filepath.Join(cfg.Data.BaseModelsDir, "xtts")
	status.Details.BaseModels = checkBaseModels(xttsRoot)
	if !status.Details.BaseModels.Exists {
		status.Warnings = append(status.Warnings, fmt.Sprintf("基础模型目录不存在，训练时将从 %s 下载: %s", cfg.Hub.BaseModelRepo, xttsRoot))
	}

	// 3. 检查 Whisper 服务（可选，未配置时使用本地程序）
	status.Details.WhisperService = checkWhisperConnection(ctx, cfg.Collaborators.WhisperURL)
	if status.Details.WhisperService.Configured && !status.Details.WhisperService.Reachable {
		status.Warnings = append(status.Warnings, fmt.Sprintf("Whisper 服务不可达，回退到本地程序: %s", status.Details.WhisperService.Error))
	}

	// 4. 检查协作进程
	names := make([]string, 0, len(cfg.Collaborators.Commands))
	for name := range cfg.Collaborators.Commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		tool := checkTool(ctx, name, cfg.Collaborators.Commands[name])
		status.Details.Tools[name] = tool
		if tool.Available {
			continue
		}
		msg := fmt.Sprintf("%s 不可用: %s", name, tool.Error)
		if requiredTools[name] {
			status.Ready = false
			status.Issues = append(status.Issues, msg)
		} else {
			status.Warnings = append(status.Warnings, msg)
		}
	}

	// 5. 检查磁盘空间
	status.Details.Disk = checkDisk(cfg.Data.OutPath, cfg.Training.MinFreeDiskGB)
	if status.Details.Disk.Error != "" {
		status.Warnings = append(status.Warnings, "无法获取磁盘空间: "+status.Details.Disk.Error)
	} else if status.Details.Disk.FreeGB < status.Details.Disk.MinFree {
		status.Ready = false
		status.Issues = append(status.Issues, fmt.Sprintf("磁盘空间不足: 剩余 %.1f GB，至少需要 %.1f GB", status.Details.Disk.FreeGB, status.Details.Disk.MinFree))
	}

	return status
}

// maskToken 遮蔽 Token 的中间部分
func maskToken(token string) string {
	if len(token) <= 8 {
		return "***"
	}
	return token[:4] + "..." + token[len(token)-4:]
}

func checkBaseModels(root string) ModelStatus {
	st := ModelStatus{Path: root}
	entries, err := os.ReadDir(root)
	if err != nil {
		return st
	}
	st.Exists = true
	for _, e := range entries {
		if e.IsDir() {
			st.Versions = append(st.Versions, e.Name())
		}
	}
	st.Size = fmt.Sprintf("%.2f MB", float64(utils.DirSize(root))/(1024*1024))
	return st
}

// checkWhisperConnection 检查 Whisper 服务健康状态
func checkWhisperConnection(ctx context.Context, baseURL string) ServiceStatus {
	if baseURL == "" {
		return ServiceStatus{}
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	start := time.Now()
	ok, err := whisper.NewGoWhisperImpl(baseURL).HealthCheck(ctx)
	latency := time.Since(start)
	if !ok {
		msg := "unhealthy"
		if err != nil {
			msg = err.Error()
		}
		return ServiceStatus{Configured: true, URL: baseURL, Error: msg}
	}
	return ServiceStatus{
		Configured: true,
		Reachable:  true,
		URL:        baseURL,
		Latency:    fmt.Sprintf("%dms", latency.Milliseconds()),
	}
}

// checkTool 检查协作程序及其脚本参数是否存在
func checkTool(ctx context.Context, name string, argv []string) ToolStatus {
	if len(argv) == 0 || argv[0] == "" {
		return ToolStatus{Error: "command not configured"}
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return ToolStatus{Error: err.Error()}
	}
	for _, arg := range argv[1:] {
		if strings.HasSuffix(arg, ".py") {
			if _, err := os.Stat(arg); err != nil {
				return ToolStatus{Path: path, Error: fmt.Sprintf("script missing: %s", arg)}
			}
		}
	}

	st := ToolStatus{Available: true, Path: path}
	if name == config.CommandFFmpeg {
		st.Version = ffmpegVersion(ctx, path)
	}
	return st
}

// ffmpegVersion 尝试解析版本号（第一行通常包含版本信息）
func ffmpegVersion(ctx context.Context, bin string) string {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	output, err := exec.CommandContext(ctx, bin, "-version").Output()
	if err != nil {
		return "unknown"
	}
	line, _, _ := strings.Cut(string(output), "\n")
	if parts := strings.Fields(line); len(parts) >= 3 {
		return parts[2]
	}
	return "unknown"
}

func checkDisk(path string, minFreeGB float64) DiskStatus {
	st := DiskStatus{Path: path, MinFree: minFreeGB}
	free, err := utils.FreeDiskBytes(path)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.FreeGB = float64(free) / (1 << 30)
	return st
}
