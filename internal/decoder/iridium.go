package decoder

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	iridiumHeaderLen = 2
	iridiumRecordLen = 5
	iridiumPrefix    = "iridium_"
)

var iridiumTags = map[byte]string{
	1: "dissolved_oxygen",
	2: "conductivity",
	3: "ph",
	4: "temperature",
	5: "humidity",
}

type iridiumTime struct {
	Year   int `json:"year"`
	Month  int `json:"month"`
	Day    int `json:"day"`
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// An empty receivedAt block means the gateway did not stamp the message.
func (t *iridiumTime) absent() bool {
	return t == nil || *t == iridiumTime{}
}

type iridiumMessage struct {
	Identity *struct {
		Hardware *struct {
			IMEI json.RawMessage `json:"imei"`
		} `json:"hardware"`
	} `json:"identity"`
	ReceivedAt *iridiumTime `json:"receivedAt"`
	Location   *struct {
		Lat *float64 `json:"lat"`
		Lon *float64 `json:"lon"`
	} `json:"location"`
	Data string `json:"data"`
}

// DecodeIridium reads a satellite gateway envelope and its Base64 binary
// frame. A frame that cannot be read leaves the reading without measurements
// but keeps identity, time and location.
func DecodeIridium(raw []byte) (*Reading, error) {
	var msg iridiumMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, decodeErr(FormatIridium, "envelope", err)
	}

	imei, err := iridiumIMEI(&msg)
	if err != nil {
		return nil, decodeErr(FormatIridium, "identity", err)
	}

	reading := &Reading{
		SensorName: iridiumPrefix + imei,
		Timestamp:  now().UTC(),
	}

	if r := msg.ReceivedAt; !r.absent() {
		if r.Month < 1 || r.Month > 12 || r.Day < 1 || r.Day > 31 ||
			r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 || r.Second < 0 || r.Second > 60 {
			return nil, decodeErr(FormatIridium, "receivedAt", fmt.Errorf("invalid date %d-%d-%d %d:%d:%d",
				r.Year, r.Month, r.Day, r.Hour, r.Minute, r.Second))
		}
		reading.Timestamp = time.Date(r.Year, time.Month(r.Month), r.Day, r.Hour, r.Minute, r.Second, 0, time.UTC)
	}

	if l := msg.Location; l != nil && l.Lat != nil && l.Lon != nil {
		lat, lon := *l.Lat, *l.Lon
		reading.Latitude = &lat
		reading.Longitude = &lon
	}

	frame, err := decodeBase64(msg.Data)
	if err != nil {
		reading.Measurements = map[string]float64{}
		reading.Warnings = append(reading.Warnings, fmt.Sprintf("binary payload unreadable: %v", err))
		return reading, nil
	}

	var skipped []string
	reading.Measurements, skipped = ParseIridiumFrame(frame)
	reading.Warnings = append(reading.Warnings, skipped...)

	return reading, nil
}

func iridiumIMEI(msg *iridiumMessage) (string, error) {
	if msg.Identity == nil || msg.Identity.Hardware == nil || len(msg.Identity.Hardware.IMEI) == 0 {
		return "", errors.New("missing identity.hardware.imei")
	}

	var imei string
	if err := json.Unmarshal(msg.Identity.Hardware.IMEI, &imei); err != nil {
		var n json.Number
		if err := json.Unmarshal(msg.Identity.Hardware.IMEI, &n); err != nil {
			return "", fmt.Errorf("imei is neither string nor number: %w", err)
		}
		imei = n.String()
	}

	imei = strings.TrimSpace(imei)
	if imei == "" {
		return "", errors.New("empty imei")
	}
	return imei, nil
}

func decodeBase64(data string) ([]byte, error) {
	data = strings.TrimSpace(data)
	if data == "" {
		return nil, errors.New("no data field")
	}
	frame, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		if raw, rawErr := base64.RawStdEncoding.DecodeString(data); rawErr == nil {
			return raw, nil
		}
		return nil, err
	}
	return frame, nil
}

// ParseIridiumFrame walks the tag/value records that follow the frame header.
// Each record is a one byte tag and a little-endian float32. Unknown tags and a
// trailing partial record are skipped.
func ParseIridiumFrame(frame []byte) (map[string]float64, []string) {
	out := make(map[string]float64)
	var warnings []string

	if len(frame) < iridiumHeaderLen+iridiumRecordLen {
		return out, warnings
	}

	for i := iridiumHeaderLen; i+iridiumRecordLen <= len(frame); i += iridiumRecordLen {
		tag := frame[i]
		name, ok := iridiumTags[tag]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("unknown tag %d at offset %d", tag, i))
			continue
		}

		f := math.Float32frombits(binary.LittleEndian.Uint32(frame[i+1 : i+iridiumRecordLen]))
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			warnings = append(warnings, fmt.Sprintf("non-finite value for %s", name))
			continue
		}
		out[name] = widenFloat32(f)
	}

	return out, warnings
}

// widenFloat32 converts through the shortest decimal that round-trips the
// float32, so a device sending 26.1 is stored as 26.1.
func widenFloat32(f float32) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(float64(f), 'g', -1, 32), 64)
	if err != nil {
		return float64(f)
	}
	return v
}
