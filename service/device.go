package service

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/utils"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Device 进程级算力描述，启动时确定后只读
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

func (d Device) Accelerated() bool {
	return d == DeviceCUDA
}

// InitRuntime 初始化 ONNX Runtime 环境
func InitRuntime(cfg *config.ModelsConfig) error {
	if ort.IsInitialized() {
		return nil
	}
	if cfg.RuntimeLibrary != "" {
		ort.SetSharedLibraryPath(cfg.RuntimeLibrary)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX runtime: %w", err)
	}
	return nil
}

// ShutdownRuntime 释放 ONNX Runtime 环境
func ShutdownRuntime() {
	if !ort.IsInitialized() {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		utils.Logger.Warn("failed to destroy ONNX runtime", zap.Error(err))
	}
}

// DetectDevice 根据配置选择设备，auto 时探测 CUDA 执行器
func DetectDevice(cfg *config.ModelsConfig) Device {
	switch strings.ToLower(cfg.Device) {
	case string(DeviceCPU):
		return DeviceCPU
	case string(DeviceCUDA):
		return DeviceCUDA
	}

	if err := checkCUDA(); err != nil {
		utils.Logger.Info("CUDA unavailable, using CPU", zap.Error(err))
		return DeviceCPU
	}
	return DeviceCUDA
}

func checkCUDA() error {
	if !ort.IsInitialized() {
		return fmt.Errorf("runtime not initialized")
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return err
	}
	defer opts.Destroy()

	cudaOpts, err := ort.NewCUDAProviderOptions()
	if err != nil {
		return err
	}
	defer cudaOpts.Destroy()

	return opts.AppendExecutionProviderCUDA(cudaOpts)
}

// cudaProviderSettings CUDA 显存池参数：按需增长，可选上限
func cudaProviderSettings(gpuMemLimit uint64) map[string]string {
	settings := map[string]string{
		"arena_extend_strategy": "kSameAsRequested",
	}
	if gpuMemLimit > 0 {
		settings["gpu_mem_limit"] = strconv.FormatUint(gpuMemLimit, 10)
	}
	return settings
}

// newSessionOptions 按设备创建会话参数，CUDA 不可用时退回 CPU
// 显存池随会话销毁释放，模型驱逐即释放点
func newSessionOptions(device Device, gpuMemLimit uint64) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}

	if device.Accelerated() {
		cudaOpts, err := ort.NewCUDAProviderOptions()
		if err == nil {
			err = cudaOpts.Update(cudaProviderSettings(gpuMemLimit))
			if err == nil {
				err = opts.AppendExecutionProviderCUDA(cudaOpts)
			}
			cudaOpts.Destroy()
		}
		if err != nil {
			utils.Logger.Warn("failed to enable CUDA provider", zap.Error(err))
		}
	}

	return opts, nil
}
