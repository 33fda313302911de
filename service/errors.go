package service

import (
	"errors"
	"fmt"

	"github.com/TIANLI0/MatteKit/model"
)

var (
	// ErrInvalidImage 空图或无法解码，流水线之前就拒绝
	ErrInvalidImage = errors.New("invalid image")
	// ErrModelLoad 模型实例化失败
	ErrModelLoad = errors.New("model load failed")
	// ErrSegmentation 主模型与回退模型均失败
	ErrSegmentation = errors.New("segmentation failed")
	// ErrDimensionMismatch 掩码尺寸与原图不一致，属于程序缺陷
	ErrDimensionMismatch = errors.New("mask dimension mismatch")
	// ErrBusy 处理队列已满
	ErrBusy = errors.New("processing queue is full")
)

// ModelLoadError 记录加载失败的模型
type ModelLoadError struct {
	Model model.ModelID
	Err   error
}

func (e *ModelLoadError) Error() string {
	return fmt.Sprintf("load model %s: %v", e.Model, e.Err)
}

func (e *ModelLoadError) Unwrap() []error {
	return []error{ErrModelLoad, e.Err}
}
