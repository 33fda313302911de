package service

import (
	"errors"
	"image"
	"image/color"
	"sync"

	"github.com/TIANLI0/MatteKit/model"
	"gocv.io/x/gocv"
)

// fakeHandle 返回输入尺寸的 BGRA 图，alpha 固定为 alpha
type fakeHandle struct {
	id     model.ModelID
	alpha  uint8
	err    error
	panics bool

	mu     sync.Mutex
	calls  int
	closed int
}

func (h *fakeHandle) ID() model.ModelID {
	return h.id
}

func (h *fakeHandle) Infer(img gocv.Mat) (gocv.Mat, error) {
	h.mu.Lock()
	h.calls++
	h.mu.Unlock()

	if h.panics {
		panic("backend crashed")
	}
	if h.err != nil {
		return gocv.Mat{}, h.err
	}

	bgra := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(10, 20, 30, float64(h.alpha)),
		img.Rows(), img.Cols(), gocv.MatTypeCV8UC4)
	return bgra, nil
}

func (h *fakeHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *fakeHandle) Closed() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// fakeLoader 为每次加载创建新的 fakeHandle
type fakeLoader struct {
	mu       sync.Mutex
	loadErr  map[model.ModelID]error
	inferErr map[model.ModelID]error
	panics   map[model.ModelID]bool
	alpha    uint8
	handles  []*fakeHandle
	order    []model.ModelID
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		loadErr:  map[model.ModelID]error{},
		inferErr: map[model.ModelID]error{},
		panics:   map[model.ModelID]bool{},
		alpha:    255,
	}
}

func (l *fakeLoader) Load(id model.ModelID) (ModelHandle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.order = append(l.order, id)
	if err := l.loadErr[id]; err != nil {
		return nil, err
	}
	h := &fakeHandle{id: id, alpha: l.alpha, err: l.inferErr[id], panics: l.panics[id]}
	l.handles = append(l.handles, h)
	return h, nil
}

func (l *fakeLoader) Handles() []*fakeHandle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*fakeHandle(nil), l.handles...)
}

func (l *fakeLoader) Order() []model.ModelID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.ModelID(nil), l.order...)
}

var errBackend = errors.New("backend error")

// fakeClassifier 固定返回分类结果
type fakeClassifier struct {
	result model.Classification
	err    error
}

func (c *fakeClassifier) Classify(img gocv.Mat) (model.Classification, error) {
	if img.Empty() {
		return model.Classification{}, ErrInvalidImage
	}
	return c.result, c.err
}

func solidBGR(w, h int, b, g, r float64) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(b, g, r, 0), h, w, gocv.MatTypeCV8UC3)
}

// checkerboard 生成高边缘密度的图
func checkerboard(w, h, cell int) gocv.Mat {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if (x/cell+y/cell)%2 == 0 {
				c = color.RGBA{R: 255, G: 255, B: 255, A: 255}
			}
			img.Set(x, y, c)
		}
	}
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		panic(err)
	}
	return mat
}
