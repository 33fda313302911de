package service

import (
	"fmt"
	"image"
	"sync"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// faceDetector 在灰度图上检测人脸
type faceDetector interface {
	Detect(gray gocv.Mat) []image.Rectangle
	Close() error
}

// cascadeDetector Haar 级联检测，加载一次，检测串行
type cascadeDetector struct {
	mu           sync.Mutex
	cascade      gocv.CascadeClassifier
	scaleFactor  float64
	minNeighbors int
	minSize      image.Point
}

func newCascadeDetector(cfg *config.ClassifierConfig) (*cascadeDetector, error) {
	cascade := gocv.NewCascadeClassifier()
	if !cascade.Load(cfg.CascadePath) {
		cascade.Close()
		return nil, fmt.Errorf("failed to load cascade %s", cfg.CascadePath)
	}
	return &cascadeDetector{
		cascade:      cascade,
		scaleFactor:  cfg.ScaleFactor,
		minNeighbors: cfg.MinNeighbors,
		minSize:      image.Point{X: cfg.MinFaceSize, Y: cfg.MinFaceSize},
	}, nil
}

// Detect 偏向召回
func (d *cascadeDetector) Detect(gray gocv.Mat) []image.Rectangle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.DetectMultiScaleWithParams(gray, d.scaleFactor, d.minNeighbors, 0, d.minSize, image.Point{})
}

func (d *cascadeDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cascade.Close()
}

// SubjectClassifier 在缩略图上判断主体类型并选择模型
type SubjectClassifier struct {
	analysisSize         int
	cannyLow             float32
	cannyHigh            float32
	edgeDensityThreshold float64

	faces faceDetector
}

// NewSubjectClassifier 创建分类器，级联文件加载失败时只使用边缘密度
func NewSubjectClassifier(cfg *config.ClassifierConfig) *SubjectClassifier {
	sc := &SubjectClassifier{
		analysisSize:         cfg.AnalysisSize,
		cannyLow:             cfg.CannyLow,
		cannyHigh:            cfg.CannyHigh,
		edgeDensityThreshold: cfg.EdgeDensityThreshold,
	}
	if sc.analysisSize <= 0 {
		sc.analysisSize = 256
	}

	if cfg.CascadePath != "" {
		detector, err := newCascadeDetector(cfg)
		if err != nil {
			utils.Logger.Warn("face cascade not loaded, face detection disabled",
				zap.String("path", cfg.CascadePath), zap.Error(err))
		} else {
			sc.faces = detector
		}
	}

	return sc
}

// Classify 返回主体类型、模型和置信度
func (sc *SubjectClassifier) Classify(img gocv.Mat) (model.Classification, error) {
	if img.Empty() || img.Rows() == 0 || img.Cols() == 0 {
		return model.Classification{}, ErrInvalidImage
	}

	small := sc.downscale(img)
	defer small.Close()

	gray := gocv.NewMat()
	defer gray.Close()
	toGray(small, &gray)

	faces := sc.detectFaces(gray)
	if faces > 0 {
		return model.Classification{
			Subject:    model.SubjectHumanPortrait,
			Model:      model.ModelU2Net,
			Confidence: 0.8,
			Faces:      faces,
		}, nil
	}

	density := sc.edgeDensity(gray)
	if density > sc.edgeDensityThreshold {
		return model.Classification{
			Subject:     model.SubjectComplexObject,
			Model:       model.ModelISNet,
			Confidence:  0.6,
			EdgeDensity: density,
		}, nil
	}

	return model.Classification{
		Subject:     model.SubjectSimpleObject,
		Model:       model.ModelU2NetP,
		Confidence:  0.5,
		EdgeDensity: density,
	}, nil
}

func (sc *SubjectClassifier) downscale(img gocv.Mat) gocv.Mat {
	w, h, resize := scaledSize(img.Cols(), img.Rows(), sc.analysisSize)
	if !resize {
		return img.Clone()
	}

	small := gocv.NewMat()
	gocv.Resize(img, &small, image.Point{X: w, Y: h}, 0, 0, gocv.InterpolationArea)
	return small
}

func (sc *SubjectClassifier) detectFaces(gray gocv.Mat) int {
	if sc.faces == nil {
		return 0
	}
	return len(sc.faces.Detect(gray))
}

// edgeDensity 计算 Canny 边缘像素占比
func (sc *SubjectClassifier) edgeDensity(gray gocv.Mat) float64 {
	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, sc.cannyLow, sc.cannyHigh)

	total := gray.Rows() * gray.Cols()
	if total == 0 {
		return 0
	}
	return float64(gocv.CountNonZero(edges)) / float64(total)
}

func (sc *SubjectClassifier) Close() error {
	if sc.faces == nil {
		return nil
	}
	err := sc.faces.Close()
	sc.faces = nil
	return err
}

// toGray 兼容单通道、BGR 和 BGRA 输入
func toGray(src gocv.Mat, dst *gocv.Mat) {
	switch src.Channels() {
	case 1:
		src.CopyTo(dst)
	case 4:
		gocv.CvtColor(src, dst, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, dst, gocv.ColorBGRToGray)
	}
}
