package service

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/TIANLI0/MatteKit/utils"
	"github.com/nfnt/resize"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// modelSpec 模型输入尺寸和归一化参数
type modelSpec struct {
	InputSize int
	Mean      [3]float32
	Std       [3]float32
}

var modelSpecs = map[model.ModelID]modelSpec{
	model.ModelU2Net: {
		InputSize: 320,
		Mean:      [3]float32{0.485, 0.456, 0.406},
		Std:       [3]float32{0.229, 0.224, 0.225},
	},
	model.ModelU2NetP: {
		InputSize: 320,
		Mean:      [3]float32{0.485, 0.456, 0.406},
		Std:       [3]float32{0.229, 0.224, 0.225},
	},
	model.ModelISNet: {
		InputSize: 1024,
		Mean:      [3]float32{0.5, 0.5, 0.5},
		Std:       [3]float32{1.0, 1.0, 1.0},
	},
}

// OnnxLoader 从本地目录加载 ONNX 模型，缺失时下载
type OnnxLoader struct {
	dir         string
	downloadURL string
	device      Device
	gpuMemLimit uint64
	client      *http.Client
	downloadMu  sync.Mutex
}

func NewOnnxLoader(cfg *config.ModelsConfig, device Device) *OnnxLoader {
	return &OnnxLoader{
		dir:         cfg.Dir,
		downloadURL: cfg.DownloadURL,
		device:      device,
		gpuMemLimit: cfg.GPUMemLimitMB * 1024 * 1024,
		client:      &http.Client{Timeout: 10 * time.Minute},
	}
}

// Load 实现 ModelLoader
func (l *OnnxLoader) Load(id model.ModelID) (ModelHandle, error) {
	spec, ok := modelSpecs[id]
	if !ok {
		return nil, fmt.Errorf("no spec for model %s", id)
	}

	path, err := l.ensureModel(id)
	if err != nil {
		return nil, err
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect model: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, errors.New("model has no inputs or outputs")
	}

	opts, err := newSessionOptions(l.device, l.gpuMemLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer opts.Destroy()

	// 只取第一个输出，u2net 系列的第一个输出是融合后的结果
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	utils.Logger.Info("model loaded",
		zap.String("model", string(id)),
		zap.String("device", string(l.device)),
		zap.String("input", inputs[0].Name),
		zap.String("output", outputs[0].Name))

	return &onnxModel{id: id, spec: spec, session: session}, nil
}

func (l *OnnxLoader) ensureModel(id model.ModelID) (string, error) {
	path := filepath.Join(l.dir, string(id)+".onnx")

	l.downloadMu.Lock()
	defer l.downloadMu.Unlock()

	if _, err := os.Stat(path); err == nil {
		return path, nil
	} else if !os.IsNotExist(err) {
		return "", err
	}

	if l.downloadURL == "" {
		return "", fmt.Errorf("model file %s not found", path)
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}

	url := l.downloadURL + "/" + string(id) + ".onnx"
	utils.Logger.Info("downloading model", zap.String("model", string(id)), zap.String("url", url))
	if err := l.download(url, path); err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return path, nil
}

func (l *OnnxLoader) download(url, path string) error {
	resp, err := l.client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	// 先写临时文件，避免半截文件被当成模型
	tmp := path + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// onnxModel 单个 ONNX 会话
type onnxModel struct {
	id      model.ModelID
	spec    modelSpec
	mu      sync.Mutex
	session *ort.DynamicAdvancedSession
}

func (m *onnxModel) ID() model.ModelID {
	return m.id
}

// Infer 输出 BGRA，alpha 为模型预测的前景概率
func (m *onnxModel) Infer(img gocv.Mat) (gocv.Mat, error) {
	if img.Empty() {
		return gocv.Mat{}, ErrInvalidImage
	}

	// ToImage 按 BGR 解释三通道数据
	src, err := img.ToImage()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert image: %w", err)
	}

	size := m.spec.InputSize
	resized := resize.Resize(uint(size), uint(size), src, resize.Lanczos3)

	input, err := ort.NewTensor(ort.NewShape(1, 3, int64(size), int64(size)), m.normalize(resized))
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	m.mu.Lock()
	err = m.session.Run([]ort.Value{input}, outputs)
	m.mu.Unlock()
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("inference failed: %w", err)
	}
	defer outputs[0].Destroy()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return gocv.Mat{}, errors.New("invalid output tensor type")
	}

	pred, w, h, err := predictionPlane(tensor)
	if err != nil {
		return gocv.Mat{}, err
	}

	maskImg := resize.Resize(uint(img.Cols()), uint(img.Rows()), toGrayImage(pred, w, h), resize.Bilinear)
	gray, ok := maskImg.(*image.Gray)
	if !ok {
		return gocv.Mat{}, errors.New("unexpected mask image type")
	}

	mask, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("failed to convert mask: %w", err)
	}
	defer mask.Close()

	return Compose(img, mask)
}

// normalize 转为 CHW 并按均值方差归一化
func (m *onnxModel) normalize(img image.Image) []float32 {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	plane := w * h
	data := make([]float32, 3*plane)

	var maxVal float32 = 1e-6
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			idx := y*w + x
			data[idx] = float32(r >> 8)
			data[plane+idx] = float32(g >> 8)
			data[2*plane+idx] = float32(b >> 8)
			maxVal = max(maxVal, data[idx], data[plane+idx], data[2*plane+idx])
		}
	}

	for c := 0; c < 3; c++ {
		for i := c * plane; i < (c+1)*plane; i++ {
			data[i] = (data[i]/maxVal - m.spec.Mean[c]) / m.spec.Std[c]
		}
	}
	return data
}

func (m *onnxModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// predictionPlane 取输出张量 [1,1,H,W] 的第一张预测图
func predictionPlane(t *ort.Tensor[float32]) ([]float32, int, int, error) {
	shape := t.GetShape()
	if len(shape) < 2 {
		return nil, 0, 0, fmt.Errorf("unexpected output shape %v", shape)
	}
	h, w := int(shape[len(shape)-2]), int(shape[len(shape)-1])
	data := t.GetData()
	if h <= 0 || w <= 0 || len(data) < h*w {
		return nil, 0, 0, fmt.Errorf("unexpected output shape %v", shape)
	}
	return data[:h*w], w, h, nil
}

// toGrayImage 最小最大归一化后转为灰度图
func toGrayImage(pred []float32, w, h int) *image.Gray {
	lo, hi := pred[0], pred[0]
	for _, v := range pred {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	out := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range pred {
		out.SetGray(i%w, i/w, color.Gray{Y: uint8((v - lo) / span * 255)})
	}
	return out
}
