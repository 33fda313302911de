package service

import (
	"errors"
	"fmt"

	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// SegmentResult 分割结果，Mask 由调用方关闭
type SegmentResult struct {
	Mask     gocv.Mat
	Model    model.ModelID
	Attempts []model.ModelID
}

// Segmenter 调用模型生成 alpha 掩码，失败时回退一次
type Segmenter struct {
	cache    *ModelCache
	fallback model.ModelID
}

func NewSegmenter(cache *ModelCache, fallback model.ModelID) *Segmenter {
	if !model.IsKnownModel(fallback) {
		fallback = model.ModelU2NetP
	}
	return &Segmenter{cache: cache, fallback: fallback}
}

// Segment 先用 id 推理，失败后用回退模型再试一次，最多两次
func (s *Segmenter) Segment(img gocv.Mat, id model.ModelID) (SegmentResult, error) {
	attempts := []model.ModelID{id}

	mask, err := s.run(img, id)
	if err == nil {
		return SegmentResult{Mask: mask, Model: id, Attempts: attempts}, nil
	}

	utils.Logger.Error("segmentation failed, falling back",
		zap.String("model", string(id)),
		zap.String("fallback", string(s.fallback)),
		zap.Error(err))

	attempts = append(attempts, s.fallback)
	mask, fbErr := s.run(img, s.fallback)
	if fbErr != nil {
		return SegmentResult{Attempts: attempts}, fmt.Errorf("%w: primary %s: %v; fallback %s: %w",
			ErrSegmentation, id, err, s.fallback, fbErr)
	}

	return SegmentResult{Mask: mask, Model: s.fallback, Attempts: attempts}, nil
}

func (s *Segmenter) run(img gocv.Mat, id model.ModelID) (mask gocv.Mat, err error) {
	lease, err := s.cache.Acquire(id)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer lease.Release()

	// 推理后端的 panic 也按失败处理，交给回退
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model %s panicked: %v", id, r)
		}
	}()

	out, err := lease.Handle().Infer(img)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer out.Close()

	return extractMask(out)
}

// extractMask 四通道取 alpha，三通道转灰度，单通道直接复制
func extractMask(out gocv.Mat) (gocv.Mat, error) {
	if out.Empty() {
		return gocv.Mat{}, errors.New("model returned empty image")
	}

	mask := gocv.NewMat()
	switch out.Channels() {
	case 4:
		gocv.ExtractChannel(out, &mask, 3)
	case 3:
		gocv.CvtColor(out, &mask, gocv.ColorBGRToGray)
	case 1:
		mask.Close()
		return out.Clone(), nil
	default:
		mask.Close()
		return gocv.Mat{}, fmt.Errorf("unexpected channel count %d", out.Channels())
	}
	return mask, nil
}
