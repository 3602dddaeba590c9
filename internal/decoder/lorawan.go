package decoder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

const lorawanTimestampKey = "timestamp"

type lorawanUplink struct {
	DeviceInfo *struct {
		DeviceName string `json:"deviceName"`
	} `json:"deviceInfo"`
	RxInfo []struct {
		Rssi *json.Number `json:"rssi"`
		Snr  *json.Number `json:"snr"`
	} `json:"rxInfo"`
	Object map[string]interface{} `json:"object"`
}

// DecodeLoRaWAN reads a network server uplink event. The application payload
// is expected to be decoded already and carried in the "object" block.
func DecodeLoRaWAN(raw []byte) (*Reading, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var uplink lorawanUplink
	if err := dec.Decode(&uplink); err != nil {
		return nil, decodeErr(FormatLoRaWAN, "envelope", err)
	}

	if uplink.DeviceInfo == nil || strings.TrimSpace(uplink.DeviceInfo.DeviceName) == "" {
		return nil, decodeErr(FormatLoRaWAN, "deviceInfo", errors.New("missing deviceName"))
	}
	if len(uplink.RxInfo) == 0 {
		return nil, decodeErr(FormatLoRaWAN, "rxInfo", errors.New("no reception records"))
	}
	if uplink.Object == nil {
		return nil, decodeErr(FormatLoRaWAN, "object", errors.New("missing object block"))
	}

	ts, err := lorawanTimestamp(uplink.Object[lorawanTimestampKey])
	if err != nil {
		return nil, decodeErr(FormatLoRaWAN, "timestamp", err)
	}

	reading := &Reading{
		SensorName:   strings.TrimSpace(uplink.DeviceInfo.DeviceName),
		Timestamp:    ts,
		Measurements: make(map[string]float64, len(uplink.Object)+2),
	}

	for key, value := range uplink.Object {
		if key == lorawanTimestampKey {
			continue
		}
		v, ok := numericValue(value)
		if !ok {
			if value != nil {
				reading.Warnings = append(reading.Warnings, fmt.Sprintf("skipped non-numeric value for %q", key))
			}
			continue
		}
		reading.Measurements[key] = v
	}

	rx := uplink.RxInfo[0]
	if v, ok := numericValue(derefNumber(rx.Rssi)); ok {
		reading.Measurements["rssi"] = v
	}
	if v, ok := numericValue(derefNumber(rx.Snr)); ok {
		reading.Measurements["snr"] = v
	}

	return reading, nil
}

func lorawanTimestamp(value interface{}) (time.Time, error) {
	n, ok := value.(json.Number)
	if !ok {
		return time.Time{}, errors.New("object.timestamp missing or not numeric")
	}
	seconds, err := n.Float64()
	if err != nil || math.IsNaN(seconds) || math.IsInf(seconds, 0) {
		return time.Time{}, fmt.Errorf("invalid epoch timestamp %q", n.String())
	}
	whole, frac := math.Modf(seconds)
	return time.Unix(int64(whole), int64(frac*1e9)).UTC(), nil
}

func derefNumber(n *json.Number) interface{} {
	if n == nil {
		return nil
	}
	return *n
}

// numericValue accepts JSON numbers and booleans. Nulls, strings and nested
// values are not measurements.
func numericValue(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
