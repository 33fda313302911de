package service

import (
	"context"
	"image"
	"testing"
	"time"

	"github.com/TIANLI0/MatteKit/config"
	"github.com/TIANLI0/MatteKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

type removerFixture struct {
	loader    *fakeLoader
	reclaimer *Reclaimer
	cache     *ModelCache
	remover   *RemoverService
}

func newRemoverFixture(cfg config.PipelineConfig, c model.Classification) *removerFixture {
	loader := newFakeLoader()
	reclaimer := NewReclaimer()
	cache := NewModelCache(loader, reclaimer)
	return &removerFixture{
		loader:    loader,
		reclaimer: reclaimer,
		cache:     cache,
		remover:   NewRemoverService(&cfg, &fakeClassifier{result: c}, cache, reclaimer, DeviceCPU),
	}
}

func defaultPipeline() config.PipelineConfig {
	return config.PipelineConfig{
		MaxConcurrent:  2,
		QueueTimeout:   time.Second,
		ModelSelection: "classifier",
		FallbackModel:  string(model.ModelU2NetP),
	}
}

var simpleObject = model.Classification{
	Subject:    model.SubjectSimpleObject,
	Model:      model.ModelU2NetP,
	Confidence: 0.5,
}

func TestRemove_LargeImageKeepsOriginalSize(t *testing.T) {
	f := newRemoverFixture(defaultPipeline(), simpleObject)

	img := solidBGR(2000, 1500, 40, 80, 120)
	defer img.Close()

	out, report, err := f.remover.Remove(context.Background(), img, model.QualityStandard)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, 2000, out.Cols())
	assert.Equal(t, 1500, out.Rows())
	assert.Equal(t, 4, out.Channels())

	assert.Equal(t, model.ModelU2NetP, report.ModelUsed)
	assert.Equal(t, model.ModelISNet, report.ModelHint)
	assert.Equal(t, []model.ModelID{model.ModelU2NetP}, report.Attempts)
	assert.False(t, report.Fallback)
	assert.Equal(t, 512, report.ProcessedWidth)
	assert.Equal(t, 384, report.ProcessedHeight)
	assert.Equal(t, string(StageDone), report.Stage)

	// 颜色保持，alpha 来自掩码
	v := out.GetVecbAt(750, 1000)
	assert.Equal(t, []uint8{40, 80, 120, 255}, []uint8(v))
}

func TestRemove_PortraitUsesGeneralModel(t *testing.T) {
	cfg := defaultPipeline()
	loader := newFakeLoader()
	reclaimer := NewReclaimer()
	cache := NewModelCache(loader, reclaimer)

	classifier := NewSubjectClassifier(testClassifierConfig())
	classifier.faces = &stubFaces{rects: []image.Rectangle{image.Rect(40, 40, 120, 120)}}
	defer classifier.Close()

	remover := NewRemoverService(&cfg, classifier, cache, reclaimer, DeviceCPU)

	img := solidBGR(800, 600, 60, 90, 200)
	defer img.Close()

	out, report, err := remover.Remove(context.Background(), img, model.QualityStandard)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, model.SubjectHumanPortrait, report.Classification.Subject)
	assert.Equal(t, model.ModelU2Net, report.ModelUsed)
	assert.Equal(t, []model.ModelID{model.ModelU2Net}, report.Attempts)
	assert.Equal(t, 800, out.Cols())
	assert.Equal(t, 600, out.Rows())
	assert.Equal(t, 4, out.Channels())
}

func TestRemove_FallbackModel(t *testing.T) {
	complexObject := model.Classification{
		Subject:    model.SubjectComplexObject,
		Model:      model.ModelISNet,
		Confidence: 0.6,
	}
	f := newRemoverFixture(defaultPipeline(), complexObject)
	f.loader.inferErr[model.ModelISNet] = errBackend

	img := solidBGR(320, 240, 0, 0, 0)
	defer img.Close()

	out, report, err := f.remover.Remove(context.Background(), img, model.QualityHigh)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, model.ModelU2NetP, report.ModelUsed)
	assert.True(t, report.Fallback)
	assert.Equal(t, []model.ModelID{model.ModelISNet, model.ModelU2NetP}, report.Attempts)
	assert.Equal(t, 320, out.Cols())
}

func TestRemove_FailureStillReclaims(t *testing.T) {
	f := newRemoverFixture(defaultPipeline(), simpleObject)
	f.loader.inferErr[model.ModelU2NetP] = errBackend

	img := solidBGR(64, 64, 0, 0, 0)
	defer img.Close()

	before := f.reclaimer.Runs()
	_, report, err := f.remover.Remove(context.Background(), img, model.QualityStandard)
	require.ErrorIs(t, err, ErrSegmentation)
	assert.Equal(t, string(StageFailed), report.Stage)
	assert.Greater(t, f.reclaimer.Runs(), before)

	// 失败后槽位已归还
	f.loader.inferErr[model.ModelU2NetP] = nil
	f.cache.Evict()
	out, _, err := f.remover.Remove(context.Background(), img, model.QualityStandard)
	require.NoError(t, err)
	out.Close()
}

func TestRemove_PixelCountSelection(t *testing.T) {
	cfg := defaultPipeline()
	cfg.ModelSelection = "pixel_count"
	f := newRemoverFixture(cfg, simpleObject)

	img := solidBGR(1000, 1000, 0, 0, 0)
	defer img.Close()

	out, report, err := f.remover.Remove(context.Background(), img, model.QualityStandard)
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, model.ModelU2Net, report.ModelHint)
	assert.Equal(t, model.ModelU2Net, report.ModelUsed)
}

func TestRemove_EmptyImage(t *testing.T) {
	f := newRemoverFixture(defaultPipeline(), simpleObject)

	_, _, err := f.remover.Remove(context.Background(), gocv.NewMat(), model.QualityStandard)
	assert.ErrorIs(t, err, ErrInvalidImage)
	assert.Zero(t, f.cache.Loads())
}

func TestRemove_Busy(t *testing.T) {
	cfg := defaultPipeline()
	cfg.MaxConcurrent = 1
	cfg.QueueTimeout = 20 * time.Millisecond
	f := newRemoverFixture(cfg, simpleObject)

	require.NoError(t, f.remover.acquireSlot(context.Background()))
	defer f.remover.releaseSlot()

	img := solidBGR(16, 16, 0, 0, 0)
	defer img.Close()

	_, _, err := f.remover.Remove(context.Background(), img, model.QualityStandard)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestRemove_CancelledWhileQueued(t *testing.T) {
	cfg := defaultPipeline()
	cfg.MaxConcurrent = 1
	f := newRemoverFixture(cfg, simpleObject)

	require.NoError(t, f.remover.acquireSlot(context.Background()))
	defer f.remover.releaseSlot()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	img := solidBGR(16, 16, 0, 0, 0)
	defer img.Close()

	_, _, err := f.remover.Remove(ctx, img, model.QualityStandard)
	assert.ErrorIs(t, err, ErrBusy)
}

func TestRemoveBytes_ProducesPNG(t *testing.T) {
	f := newRemoverFixture(defaultPipeline(), simpleObject)

	img := solidBGR(120, 90, 0, 128, 255)
	defer img.Close()
	buf, err := gocv.IMEncode(gocv.JPEGFileExt, img)
	require.NoError(t, err)
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	ctx := WithRequestID(context.Background(), "req-1")
	result, err := f.remover.RemoveBytes(ctx, data, model.QualityUltra)
	require.NoError(t, err)

	assert.Equal(t, "image/png", DetectImageType(result.PNG))
	assert.Equal(t, "req-1", result.Report.RequestID)
	assert.Equal(t, model.QualityUltra, result.Report.Quality)

	decoded, err := gocv.IMDecode(result.PNG, gocv.IMReadUnchanged)
	require.NoError(t, err)
	defer decoded.Close()
	assert.Equal(t, 4, decoded.Channels())
	assert.Equal(t, 120, decoded.Cols())
	assert.Equal(t, 90, decoded.Rows())
}

func TestRemoveBytes_InvalidImage(t *testing.T) {
	f := newRemoverFixture(defaultPipeline(), simpleObject)

	_, err := f.remover.RemoveBytes(context.Background(), []byte("not an image"), model.QualityStandard)
	assert.ErrorIs(t, err, ErrInvalidImage)
}

func TestRemoverService_CleanupEvicts(t *testing.T) {
	f := newRemoverFixture(defaultPipeline(), simpleObject)

	img := solidBGR(32, 32, 0, 0, 0)
	defer img.Close()
	out, _, err := f.remover.Remove(context.Background(), img, model.QualityStandard)
	require.NoError(t, err)
	out.Close()

	assert.Equal(t, []model.ModelID{model.ModelU2NetP}, f.remover.ResidentModels())

	f.remover.Cleanup(false)
	assert.Len(t, f.remover.ResidentModels(), 1)

	f.remover.Cleanup(true)
	assert.Empty(t, f.remover.ResidentModels())
	// 驱逐时关闭会话，推理后端的显存池随之释放
	handles := f.loader.Handles()
	require.Len(t, handles, 1)
	assert.Equal(t, 1, handles[0].Closed())
	assert.Equal(t, DeviceCPU, f.remover.Device())
}

func TestDownscale(t *testing.T) {
	img := solidBGR(2000, 1500, 0, 0, 0)
	defer img.Close()

	for _, tier := range model.QualityTiers {
		budget := ResizeBudget(tier)
		out := Downscale(img, budget)
		assert.Equal(t, budget, max(out.Cols(), out.Rows()), "tier %s", tier)
		out.Close()
	}

	small := solidBGR(100, 80, 0, 0, 0)
	defer small.Close()
	out := Downscale(small, 512)
	defer out.Close()
	assert.Equal(t, 100, out.Cols())
	assert.Equal(t, 80, out.Rows())
}
