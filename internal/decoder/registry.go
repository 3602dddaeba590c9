package decoder

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Predicate inspects the top-level keys of an envelope.
type Predicate func(envelope map[string]json.RawMessage) bool

type DecodeFunc func(raw []byte) (*Reading, error)

type entry struct {
	format  Format
	matches Predicate
	decode  DecodeFunc
}

// Registry is an ordered decision table of payload formats. The first entry
// whose predicate accepts the envelope decodes it.
type Registry struct {
	mu      sync.RWMutex
	entries []entry
}

func NewRegistry() *Registry {
	r := &Registry{}
	r.Register(FormatLoRaWAN, HasKey("deviceInfo"), DecodeLoRaWAN)
	r.Register(FormatIridium, HasKey("identity"), DecodeIridium)
	return r
}

func HasKey(key string) Predicate {
	return func(envelope map[string]json.RawMessage) bool {
		_, ok := envelope[key]
		return ok
	}
}

func (r *Registry) Register(format Format, matches Predicate, decode DecodeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, entry{format: format, matches: matches, decode: decode})
}

func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()

	formats := make([]Format, 0, len(r.entries))
	for _, e := range r.entries {
		formats = append(formats, e.format)
	}
	return formats
}

// Decode classifies and decodes raw. A non-empty hint selects the format
// directly instead of inspecting the envelope.
func (r *Registry) Decode(raw []byte, hint Format) (*Reading, Format, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, "", ErrEmptyPayload
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnknownFormat, err)
	}
	if envelope == nil {
		return nil, "", ErrEmptyPayload
	}

	e, ok := r.lookup(envelope, Format(strings.ToLower(string(hint))))
	if !ok {
		if hint != "" {
			return nil, "", fmt.Errorf("%w: %q", ErrUnknownFormat, hint)
		}
		return nil, "", ErrUnknownFormat
	}

	reading, err := e.decode(raw)
	if err != nil {
		return nil, e.format, err
	}
	return reading, e.format, nil
}

func (r *Registry) lookup(envelope map[string]json.RawMessage, hint Format) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if hint != "" {
			if e.format == hint {
				return e, true
			}
			continue
		}
		if e.matches(envelope) {
			return e, true
		}
	}
	return entry{}, false
}
