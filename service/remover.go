package service

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Stage 单次请求的流水线阶段
type Stage string

const (
	StageReceived     Stage = "received"
	StageDownscaled   Stage = "downscaled"
	StageClassified   Stage = "classified"
	StagePreprocessed Stage = "preprocessed"
	StageSegmented    Stage = "segmented"
	StageMaskRefined  Stage = "mask_refined"
	StageComposited   Stage = "composited"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Classifier 主体分类
type Classifier interface {
	Classify(img gocv.Mat) (model.Classification, error)
}

// RemoverService 串联分类、分割、掩码细化与合成
type RemoverService struct {
	classifier    Classifier
	cache         *ModelCache
	segmenter     *Segmenter
	maskProcessor *MaskProcessor
	reclaimer     *Reclaimer
	device        Device
	semaphore     chan struct{}
	queueTimeout  time.Duration
	usePixelHint  bool
}

func NewRemoverService(cfg *config.PipelineConfig, classifier Classifier, cache *ModelCache, reclaimer *Reclaimer, device Device) *RemoverService {
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &RemoverService{
		classifier:    classifier,
		cache:         cache,
		segmenter:     NewSegmenter(cache, model.ModelID(cfg.FallbackModel)),
		maskProcessor: NewMaskProcessor(),
		reclaimer:     reclaimer,
		device:        device,
		semaphore:     make(chan struct{}, maxConcurrent),
		queueTimeout:  cfg.QueueTimeout,
		usePixelHint:  cfg.ModelSelection == "pixel_count",
	}
}

// RemoveBytes 解码上传内容，执行流水线并编码为 PNG
func (s *RemoverService) RemoveBytes(ctx context.Context, data []byte, tier model.QualityTier) (*model.RemovalResult, error) {
	img, err := DecodeImage(data)
	if err != nil {
		return nil, err
	}
	defer img.Close()

	result, report, err := s.Remove(ctx, img, tier)
	if err != nil {
		return nil, err
	}
	defer result.Close()

	png, err := EncodePNG(result)
	if err != nil {
		return nil, err
	}

	return &model.RemovalResult{PNG: png, Report: report}, nil
}

// Remove 对解码后的图执行完整流水线，返回的 BGRA 图由调用方关闭
func (s *RemoverService) Remove(ctx context.Context, img gocv.Mat, tier model.QualityTier) (gocv.Mat, *model.RemovalReport, error) {
	if img.Empty() {
		return gocv.Mat{}, nil, ErrInvalidImage
	}

	if err := s.acquireSlot(ctx); err != nil {
		return gocv.Mat{}, nil, err
	}
	defer s.releaseSlot()

	// 无论成败都回收内存
	defer s.reclaimer.Reclaim()

	report := &model.RemovalReport{
		RequestID:      RequestIDFrom(ctx),
		Quality:        tier,
		OriginalWidth:  img.Cols(),
		OriginalHeight: img.Rows(),
		Stage:          string(StageReceived),
	}

	var out gocv.Mat
	m, err := Measure("remove_background", func() error {
		var runErr error
		out, runErr = s.run(img, tier, report)
		return runErr
	})
	report.Duration = m.Duration

	if err != nil {
		utils.Logger.Error("background removal failed",
			zap.String("request_id", report.RequestID),
			zap.String("stage", report.Stage),
			zap.Duration("duration", report.Duration),
			zap.Error(err))
		report.Stage = string(StageFailed)
		return gocv.Mat{}, report, err
	}

	report.Stage = string(StageDone)
	utils.Logger.Info("image processed successfully",
		zap.String("request_id", report.RequestID),
		zap.String("quality", string(tier)),
		zap.String("subject", string(report.Classification.Subject)),
		zap.String("model", string(report.ModelUsed)),
		zap.Bool("fallback", report.Fallback),
		zap.Duration("duration", report.Duration))

	return out, report, nil
}

func (s *RemoverService) run(img gocv.Mat, tier model.QualityTier, report *model.RemovalReport) (gocv.Mat, error) {
	original := image.Point{X: img.Cols(), Y: img.Rows()}

	utils.Logger.Info("processing image",
		zap.String("request_id", report.RequestID),
		zap.Int("width", original.X),
		zap.Int("height", original.Y),
		zap.String("quality", string(tier)))

	scaled := Downscale(img, ResizeBudget(tier))
	defer scaled.Close()
	report.ProcessedWidth, report.ProcessedHeight = scaled.Cols(), scaled.Rows()
	report.Stage = string(StageDownscaled)

	classification, err := s.classifier.Classify(scaled)
	if err != nil {
		return gocv.Mat{}, err
	}
	report.Classification = classification
	report.ModelHint = ModelHint(original.X, original.Y)
	report.Stage = string(StageClassified)

	utils.Logger.Info("subject classified",
		zap.String("request_id", report.RequestID),
		zap.String("subject", string(classification.Subject)),
		zap.String("model", string(classification.Model)),
		zap.Float64("confidence", classification.Confidence),
		zap.String("model_hint", string(report.ModelHint)))

	modelID := classification.Model
	if s.usePixelHint {
		modelID = report.ModelHint
	}

	processed := Preprocess(scaled, PreprocessingIntensity(tier))
	defer processed.Close()
	report.Stage = string(StagePreprocessed)

	seg, err := s.segmenter.Segment(processed, modelID)
	report.Attempts = seg.Attempts
	if err != nil {
		return gocv.Mat{}, err
	}
	defer seg.Mask.Close()
	report.ModelUsed = seg.Model
	report.Fallback = len(seg.Attempts) > 1
	report.Stage = string(StageSegmented)

	refined, err := s.maskProcessor.Refine(seg.Mask, original, tier)
	if err != nil {
		return gocv.Mat{}, err
	}
	defer refined.Close()
	report.Stage = string(StageMaskRefined)

	result, err := Compose(img, refined)
	if err != nil {
		return gocv.Mat{}, err
	}
	report.Stage = string(StageComposited)

	return result, nil
}

// acquireSlot 并发控制，排队超时返回 ErrBusy
func (s *RemoverService) acquireSlot(ctx context.Context) error {
	if s.queueTimeout <= 0 {
		select {
		case s.semaphore <- struct{}{}:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
		}
	}

	timer := time.NewTimer(s.queueTimeout)
	defer timer.Stop()

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBusy
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrBusy, ctx.Err())
	}
}

func (s *RemoverService) releaseSlot() {
	<-s.semaphore
}

// Cleanup 手动回收内存，evict 为真时同时卸载驻留模型
func (s *RemoverService) Cleanup(evict bool) model.ReclaimStats {
	if evict {
		s.cache.Evict()
	}
	return s.reclaimer.Reclaim()
}

func (s *RemoverService) Device() Device {
	return s.device
}

func (s *RemoverService) ResidentModels() []model.ModelID {
	return s.cache.Resident()
}

// Downscale 按最长边预算等比缩小，已在预算内时返回副本
func Downscale(img gocv.Mat, maxSize int) gocv.Mat {
	w, h, resize := scaledSize(img.Cols(), img.Rows(), maxSize)
	if !resize {
		return img.Clone()
	}

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	return resized
}

type requestIDKey struct{}

// WithRequestID 把请求ID放进 context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 读取请求ID，没有时为空
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
