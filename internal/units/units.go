// Package units maps measurement names to display units.
package units

import "strings"

var known = map[string]string{
	"temperature":      "°C",
	"pressure":         "Pa",
	"humidity":         "%",
	"velocity":         "m/s",
	"acceleration":     "m/s²",
	"water_level":      "m",
	"wave_height":      "m",
	"depth":            "m",
	"dissolved_oxygen": "mg/L",
	"conductivity":     "µS/cm",
	"turbidity":        "NTU",
	"ph":               "",
	"salinity":         "PSU",
	"latitude":         "°",
	"longitude":        "°",
	"rssi":             "dBm",
	"snr":              "dB",
	"battery":          "V",
}

// Order matters: "_mm" has to be tried before "_m".
var suffixes = []struct {
	suffix string
	unit   string
}{
	{"_temperature", "°C"},
	{"_temp", "°C"},
	{"_c", "°C"},
	{"_percent", "%"},
	{"_pct", "%"},
	{"_voltage", "V"},
	{"_v", "V"},
	{"_mm", "mm"},
	{"_m", "m"},
	{"_pa", "Pa"},
}

// Infer returns the unit for a measurement name, or "" when nothing is known.
func Infer(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if unit, ok := known[n]; ok {
		return unit
	}
	for _, s := range suffixes {
		if strings.HasSuffix(n, s.suffix) && len(n) > len(s.suffix) {
			return s.unit
		}
	}
	return ""
}
