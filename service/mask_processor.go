package service

import (
	"fmt"
	"image"

	"github.com/TIANLI0/MatteKit/model"
	"gocv.io/x/gocv"
)

// MaskProcessor 负责把模型掩码还原到原图尺寸并做形态学细化
type MaskProcessor struct{}

func NewMaskProcessor() *MaskProcessor {
	return &MaskProcessor{}
}

// Refine 返回与 original 同尺寸的单通道 8 位掩码，调用方负责关闭
func (mp *MaskProcessor) Refine(mask gocv.Mat, original image.Point, tier model.QualityTier) (gocv.Mat, error) {
	if mask.Empty() {
		return gocv.Mat{}, fmt.Errorf("%w: empty mask", ErrSegmentation)
	}

	resized := mp.ResizeTo(mask, original)
	defer resized.Close()

	normalized := mp.Normalize(resized)
	defer normalized.Close()

	if tier == model.QualityStandard {
		return mp.Close(normalized, RefinementKernel(tier)), nil
	}
	return mp.Smooth(normalized, RefinementKernel(tier)), nil
}

// ResizeTo 双线性插值到目标尺寸，尺寸一致时复制
func (mp *MaskProcessor) ResizeTo(mask gocv.Mat, size image.Point) gocv.Mat {
	if mask.Cols() == size.X && mask.Rows() == size.Y {
		return mask.Clone()
	}

	resized := gocv.NewMat()
	gocv.Resize(mask, &resized, size, 0, 0, gocv.InterpolationLinear)
	return resized
}

// Normalize 转为 CV_8UC1，浮点 [0,1] 映射到 [0,255]
func (mp *MaskProcessor) Normalize(mask gocv.Mat) gocv.Mat {
	single := gocv.NewMat()
	if mask.Channels() > 1 {
		toGray(mask, &single)
	} else {
		mask.CopyTo(&single)
	}

	switch single.Type() {
	case gocv.MatTypeCV8UC1:
		return single
	case gocv.MatTypeCV32FC1, gocv.MatTypeCV64FC1:
		out := gocv.NewMat()
		single.ConvertToWithParams(&out, gocv.MatTypeCV8UC1, 255, 0)
		single.Close()
		return out
	default:
		out := gocv.NewMat()
		single.ConvertTo(&out, gocv.MatTypeCV8UC1)
		single.Close()
		return out
	}
}

// Close 闭运算填补小孔洞
func (mp *MaskProcessor) Close(mask gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	closed := gocv.NewMat()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, kernel)
	return closed
}

// Smooth 闭运算 + 开运算 + 中值滤波，边缘更平滑、噪点更少
func (mp *MaskProcessor) Smooth(mask gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(mask, &closed, gocv.MorphClose, kernel)

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(closed, &opened, gocv.MorphOpen, kernel)

	final := gocv.NewMat()
	gocv.MedianBlur(opened, &final, 3)
	return final
}
