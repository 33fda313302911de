package utils

import (
	"github.com/segmentio/ksuid"
)

// GenerateID 生成按时间排序的请求ID
func GenerateID() string {
	return ksuid.New().String()
}
