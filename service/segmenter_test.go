package service

import (
	"testing"

	"github.com/TIANLI0/MatteKit/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestSegmenter_PrimarySucceeds(t *testing.T) {
	loader := newFakeLoader()
	loader.alpha = 200
	seg := NewSegmenter(NewModelCache(loader, nil), model.ModelU2NetP)

	img := solidBGR(40, 30, 0, 0, 255)
	defer img.Close()

	res, err := seg.Segment(img, model.ModelISNet)
	require.NoError(t, err)
	defer res.Mask.Close()

	assert.Equal(t, model.ModelISNet, res.Model)
	assert.Equal(t, []model.ModelID{model.ModelISNet}, res.Attempts)
	assert.Equal(t, 1, res.Mask.Channels())
	assert.Equal(t, 40, res.Mask.Cols())
	assert.Equal(t, 30, res.Mask.Rows())
	assert.Equal(t, uint8(200), res.Mask.GetUCharAt(10, 10))
}

func TestSegmenter_FallbackOnInferError(t *testing.T) {
	loader := newFakeLoader()
	loader.inferErr[model.ModelISNet] = errBackend
	seg := NewSegmenter(NewModelCache(loader, nil), model.ModelU2NetP)

	img := solidBGR(20, 20, 0, 255, 0)
	defer img.Close()

	res, err := seg.Segment(img, model.ModelISNet)
	require.NoError(t, err)
	defer res.Mask.Close()

	assert.Equal(t, model.ModelU2NetP, res.Model)
	assert.Equal(t, []model.ModelID{model.ModelISNet, model.ModelU2NetP}, res.Attempts)
}

func TestSegmenter_FallbackOnLoadError(t *testing.T) {
	loader := newFakeLoader()
	loader.loadErr[model.ModelU2Net] = errBackend
	seg := NewSegmenter(NewModelCache(loader, nil), model.ModelU2NetP)

	img := solidBGR(20, 20, 0, 255, 0)
	defer img.Close()

	res, err := seg.Segment(img, model.ModelU2Net)
	require.NoError(t, err)
	defer res.Mask.Close()

	assert.Equal(t, model.ModelU2NetP, res.Model)
}

func TestSegmenter_FallbackOnPanic(t *testing.T) {
	loader := newFakeLoader()
	loader.panics[model.ModelU2Net] = true
	seg := NewSegmenter(NewModelCache(loader, nil), model.ModelU2NetP)

	img := solidBGR(16, 16, 0, 0, 0)
	defer img.Close()

	res, err := seg.Segment(img, model.ModelU2Net)
	require.NoError(t, err)
	defer res.Mask.Close()

	assert.Equal(t, model.ModelU2NetP, res.Model)
}

func TestSegmenter_BothFail(t *testing.T) {
	loader := newFakeLoader()
	loader.inferErr[model.ModelISNet] = errBackend
	loader.inferErr[model.ModelU2NetP] = errBackend
	seg := NewSegmenter(NewModelCache(loader, nil), model.ModelU2NetP)

	img := solidBGR(16, 16, 0, 0, 0)
	defer img.Close()

	res, err := seg.Segment(img, model.ModelISNet)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSegmentation)
	assert.Equal(t, []model.ModelID{model.ModelISNet, model.ModelU2NetP}, res.Attempts)
	assert.True(t, res.Mask.Empty())
}

func TestSegmenter_AtMostTwoAttempts(t *testing.T) {
	loader := newFakeLoader()
	loader.inferErr[model.ModelU2NetP] = errBackend
	seg := NewSegmenter(NewModelCache(loader, nil), model.ModelU2NetP)

	img := solidBGR(16, 16, 0, 0, 0)
	defer img.Close()

	// 主模型就是回退模型时也只重试一次
	res, err := seg.Segment(img, model.ModelU2NetP)
	require.ErrorIs(t, err, ErrSegmentation)
	assert.Len(t, res.Attempts, 2)

	calls := 0
	for _, h := range loader.Handles() {
		calls += h.calls
	}
	assert.Equal(t, 2, calls)
}

func TestNewSegmenter_UnknownFallback(t *testing.T) {
	seg := NewSegmenter(NewModelCache(newFakeLoader(), nil), "bogus")
	assert.Equal(t, model.ModelU2NetP, seg.fallback)
}

func TestExtractMask(t *testing.T) {
	bgra := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(1, 2, 3, 77), 8, 8, gocv.MatTypeCV8UC4)
	defer bgra.Close()
	mask, err := extractMask(bgra)
	require.NoError(t, err)
	assert.Equal(t, 1, mask.Channels())
	assert.Equal(t, uint8(77), mask.GetUCharAt(0, 0))
	mask.Close()

	bgr := solidBGR(8, 8, 255, 255, 255)
	defer bgr.Close()
	mask, err = extractMask(bgr)
	require.NoError(t, err)
	assert.Equal(t, 1, mask.Channels())
	assert.Equal(t, uint8(255), mask.GetUCharAt(0, 0))
	mask.Close()

	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(9, 0, 0, 0), 8, 8, gocv.MatTypeCV8UC1)
	defer gray.Close()
	mask, err = extractMask(gray)
	require.NoError(t, err)
	assert.Equal(t, uint8(9), mask.GetUCharAt(0, 0))
	mask.Close()

	_, err = extractMask(gocv.NewMat())
	assert.Error(t, err)
}
