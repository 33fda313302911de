package model

// ModelDescriptions 模型用途说明
var ModelDescriptions = map[ModelID]string{
	ModelU2Net:  "General purpose - balanced quality/speed",
	ModelU2NetP: "Lightweight - fastest processing",
	ModelISNet:  "Complex objects - slower but accurate",
}

// QualityDescriptions 质量档位说明
var QualityDescriptions = map[QualityTier]string{
	QualityStandard: "Fast processing (recommended)",
	QualityHigh:     "Better quality with moderate speed",
	QualityUltra:    "Best quality but slower",
}

// Optimizations 服务采用的内存与速度策略
var Optimizations = []string{
	"Lazy model loading",
	"Single resident model",
	"Automatic image resizing",
	"Memory cleanup after processing",
	"Single model processing (no ensemble)",
	"Bounded concurrent processing",
}

// HealthResponse 健康检查
type HealthResponse struct {
	Status          string    `json:"status"`
	Device          string    `json:"device"`
	AvailableModels []ModelID `json:"available_models"`
	MemoryOptimized bool      `json:"memory_optimized"`
	Version         string    `json:"version"`
}

// CatalogResponse 模型与质量档位目录
type CatalogResponse struct {
	Models        map[ModelID]string     `json:"models"`
	QualityLevels map[QualityTier]string `json:"quality_levels"`
	Optimizations []string               `json:"optimizations"`
}

// CleanupResponse 手动回收结果
type CleanupResponse struct {
	Status  string       `json:"status"`
	Evicted bool         `json:"evicted"`
	Stats   ReclaimStats `json:"stats"`
}

// VersionInfo 构建信息
type VersionInfo struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	BuildID   string `json:"build_id"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
}
