package model

import "time"

// RemovalReport 单次抠图的处理记录
type RemovalReport struct {
	RequestID       string         `json:"request_id,omitempty"`
	Quality         QualityTier    `json:"quality"`
	Classification  Classification `json:"classification"`
	ModelHint       ModelID        `json:"model_hint"`
	ModelUsed       ModelID        `json:"model_used"`
	Attempts        []ModelID      `json:"attempts"`
	Fallback        bool           `json:"fallback"`
	OriginalWidth   int            `json:"original_width"`
	OriginalHeight  int            `json:"original_height"`
	ProcessedWidth  int            `json:"processed_width"`
	ProcessedHeight int            `json:"processed_height"`
	Stage           string         `json:"stage"`
	Duration        time.Duration  `json:"duration"`
}

// RemovalResult 编码后的结果
type RemovalResult struct {
	PNG    []byte
	Report *RemovalReport
	Cached bool
}

// ReclaimStats 内存回收前后的统计
type ReclaimStats struct {
	HeapBefore uint64        `json:"heap_before"`
	HeapAfter  uint64        `json:"heap_after"`
	Released   string        `json:"released"`
	Duration   time.Duration `json:"duration"`
}

// SystemStatus 系统状态
type SystemStatus struct {
	Device        string    `json:"device"`
	HeapAlloc     string    `json:"heap_alloc"`
	HeapSys       string    `json:"heap_sys"`
	Sys           string    `json:"sys"`
	NumGC         uint32    `json:"num_gc"`
	Goroutines    int       `json:"goroutines"`
	ResidentModel []ModelID `json:"resident_models"`
	CanProcess    bool      `json:"can_process"`
	Timestamp     int64     `json:"timestamp"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

// 机器可读的错误码
const (
	ErrCodeMissingImage     = "missing_image"
	ErrCodeInvalidImage     = "invalid_image"
	ErrCodeFileTooLarge     = "file_too_large"
	ErrCodeUnsupportedType  = "unsupported_type"
	ErrCodeBusy             = "busy"
	ErrCodeProcessingFailed = "processing_failed"
	ErrCodeCleanupFailed    = "cleanup_failed"
)
