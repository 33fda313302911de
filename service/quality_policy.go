package service

import (
	"github.com/TIANLI0/MatteKit/model"
)

// 像素数分界，来自按图像大小挑选模型的经验值
const (
	fastPixelLimit     = 500_000
	balancedPixelLimit = 2_000_000
)

// ResizeBudget 返回质量档位允许的最长边
func ResizeBudget(tier model.QualityTier) int {
	switch tier {
	case model.QualityUltra:
		return 1024
	case model.QualityHigh:
		return 768
	default:
		return 512
	}
}

// PreprocessingIntensity 返回质量档位对应的预处理强度
func PreprocessingIntensity(tier model.QualityTier) model.PreprocessIntensity {
	switch tier {
	case model.QualityHigh, model.QualityUltra:
		return model.PreprocessModerate
	default:
		return model.PreprocessNone
	}
}

// RefinementKernel 返回掩码形态学核大小
func RefinementKernel(tier model.QualityTier) int {
	if tier == model.QualityHigh || tier == model.QualityUltra {
		return 5
	}
	return 3
}

// ModelHint 仅按像素数给出模型建议，与主体分类相互独立
func ModelHint(width, height int) model.ModelID {
	pixels := width * height
	switch {
	case pixels < fastPixelLimit:
		return model.ModelU2NetP
	case pixels < balancedPixelLimit:
		return model.ModelU2Net
	default:
		return model.ModelISNet
	}
}

// scaledSize 按最长边上限等比缩放，已在上限内则原样返回
func scaledSize(width, height, maxSize int) (int, int, bool) {
	longest := max(width, height)
	if longest <= maxSize {
		return width, height, false
	}

	scale := float64(maxSize) / float64(longest)
	newWidth := max(1, int(float64(width)*scale))
	newHeight := max(1, int(float64(height)*scale))
	return newWidth, newHeight, true
}
