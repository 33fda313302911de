package service

import (
	"image"

	"github.com/TIANLI0/MatteKit/model"
	"gocv.io/x/gocv"
)

const (
	claheClipLimit = 2.0
	claheTileSize  = 8
)

// Preprocess 按强度增强输入，none 时返回副本
func Preprocess(img gocv.Mat, intensity model.PreprocessIntensity) gocv.Mat {
	if intensity != model.PreprocessModerate || img.Channels() != 3 {
		return img.Clone()
	}
	return enhanceLightness(img)
}

// enhanceLightness 在 Lab 空间对 L 通道做 CLAHE
func enhanceLightness(img gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(img, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(claheClipLimit, image.Point{X: claheTileSize, Y: claheTileSize})
	defer clahe.Close()

	lightness := gocv.NewMat()
	clahe.Apply(channels[0], &lightness)
	channels[0].Close()
	channels[0] = lightness

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	enhanced := gocv.NewMat()
	gocv.CvtColor(merged, &enhanced, gocv.ColorLabToBGR)
	return enhanced
}
