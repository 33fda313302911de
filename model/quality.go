package model

import "strings"

// QualityTier 请求的质量档位
type QualityTier string

const (
	QualityStandard QualityTier = "standard"
	QualityHigh     QualityTier = "high"
	QualityUltra    QualityTier = "ultra"
)

// QualityTiers 所有档位，按质量从低到高
var QualityTiers = []QualityTier{QualityStandard, QualityHigh, QualityUltra}

// ParseQualityTier 规范化请求参数，未知值一律视为 standard
func ParseQualityTier(s string) QualityTier {
	switch QualityTier(strings.ToLower(strings.TrimSpace(s))) {
	case QualityHigh:
		return QualityHigh
	case QualityUltra:
		return QualityUltra
	default:
		return QualityStandard
	}
}

func (q QualityTier) String() string {
	return string(q)
}

// PreprocessIntensity 预处理强度
type PreprocessIntensity string

const (
	PreprocessNone     PreprocessIntensity = "none"
	PreprocessModerate PreprocessIntensity = "moderate"
)
