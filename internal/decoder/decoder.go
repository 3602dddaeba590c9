// Package decoder turns raw uplink envelopes into normalized readings.
package decoder

import (
	"errors"
	"fmt"
	"time"
)

type Format string

const (
	FormatLoRaWAN Format = "lorawan"
	FormatIridium Format = "iridium"
)

var (
	ErrEmptyPayload  = errors.New("no JSON payload received")
	ErrUnknownFormat = errors.New("unknown payload format")
	ErrDecode        = errors.New("parsing failed or empty data")
)

var now = time.Now

// Reading is the protocol independent result of decoding one uplink.
type Reading struct {
	SensorName   string
	Timestamp    time.Time
	Measurements map[string]float64
	Latitude     *float64
	Longitude    *float64
	// Warnings lists recoverable problems, such as a binary payload that could not be read.
	Warnings []string
}

func (r *Reading) HasLocation() bool {
	return r.Latitude != nil && r.Longitude != nil
}

type DecodeError struct {
	Format Format
	Stage  string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s decode failed at %s: %v", e.Format, e.Stage, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func decodeErr(format Format, stage string, err error) error {
	return &DecodeError{Format: format, Stage: stage, Err: err}
}
