package models

import "strings"

const (
	ParamLatitude  = "latitude"
	ParamLongitude = "longitude"
)

// healthParams are link and power diagnostics, kept apart from environmental data.
var healthParams = map[string]struct{}{
	"battery": {},
	"rssi":    {},
	"snr":     {},
}

type Parameter struct {
	ID   uint   `gorm:"primaryKey" json:"-"`
	Name string `gorm:"size:64;uniqueIndex;not null" json:"name"`
	Unit string `gorm:"size:32" json:"unit"`
}

func (Parameter) TableName() string {
	return "parameters"
}

// NormalizeName is the canonical form parameter names are stored and compared in.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func IsHealthParam(name string) bool {
	_, ok := healthParams[NormalizeName(name)]
	return ok
}

func IsPositionParam(name string) bool {
	n := NormalizeName(name)
	return n == ParamLatitude || n == ParamLongitude
}

func HealthParamNames() []string {
	return []string{"battery", "rssi", "snr"}
}
