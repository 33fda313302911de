package service

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"gocv.io/x/gocv"
)

// DetectImageType 按内容嗅探 MIME，不信任客户端声明的类型
func DetectImageType(data []byte) string {
	return mimetype.Detect(data).String()
}

// IsAllowedType 判断 MIME 是否在白名单中，忽略参数部分
func IsAllowedType(contentType string, allowed []string) bool {
	base := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	for _, a := range allowed {
		if strings.EqualFold(base, a) {
			return true
		}
	}
	return false
}

// DecodeImage 解码为 BGR 彩色图，调用方负责关闭
func DecodeImage(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.Mat{}, ErrInvalidImage
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, ErrInvalidImage
	}
	return mat, nil
}

// EncodePNG 编码为 PNG 字节
func EncodePNG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	defer buf.Close()

	// GetBytes 指向 C 内存，Close 前复制一份
	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}
