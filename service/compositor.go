package service

import (
	"fmt"

	"gocv.io/x/gocv"
)

// Compose 把掩码写入原图的 alpha 通道，返回新的 BGRA 图
func Compose(original, mask gocv.Mat) (gocv.Mat, error) {
	if original.Empty() {
		return gocv.Mat{}, ErrInvalidImage
	}
	if original.Rows() != mask.Rows() || original.Cols() != mask.Cols() {
		return gocv.Mat{}, fmt.Errorf("%w: image %dx%d, mask %dx%d", ErrDimensionMismatch,
			original.Cols(), original.Rows(), mask.Cols(), mask.Rows())
	}
	if mask.Type() != gocv.MatTypeCV8UC1 {
		return gocv.Mat{}, fmt.Errorf("%w: mask must be single channel 8-bit", ErrDimensionMismatch)
	}

	bgra := gocv.NewMat()
	switch original.Channels() {
	case 4:
		original.CopyTo(&bgra)
	case 1:
		gocv.CvtColor(original, &bgra, gocv.ColorGrayToBGRA)
	default:
		gocv.CvtColor(original, &bgra, gocv.ColorBGRToBGRA)
	}

	channels := gocv.Split(bgra)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	mask.CopyTo(&channels[3])

	gocv.Merge(channels, &bgra)
	return bgra, nil
}
