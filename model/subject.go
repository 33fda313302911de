package model

// ModelID 分割模型标识
type ModelID string

const (
	ModelU2Net  ModelID = "u2net"
	ModelISNet  ModelID = "isnet-general-use"
	ModelU2NetP ModelID = "u2netp"
)

// KnownModels 固定的三个模型槽位
var KnownModels = []ModelID{ModelU2Net, ModelU2NetP, ModelISNet}

// IsKnownModel 判断是否为已知模型
func IsKnownModel(id ModelID) bool {
	for _, m := range KnownModels {
		if m == id {
			return true
		}
	}
	return false
}

// SubjectType 主体类型
type SubjectType string

const (
	SubjectHumanPortrait SubjectType = "human_portrait"
	SubjectComplexObject SubjectType = "complex_object"
	SubjectSimpleObject  SubjectType = "simple_object"
)

// Classification 主体分类结果，每个请求只产生一次
type Classification struct {
	Subject     SubjectType `json:"subject_type"`
	Model       ModelID     `json:"model"`
	Confidence  float64     `json:"confidence"`
	Faces       int         `json:"faces"`
	EdgeDensity float64     `json:"edge_density"`
}
