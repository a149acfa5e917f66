// Package memo encodes application messages appended to transaction calldata.
//
// A memo is the hex-encoded JSON of an arbitrary object placed after a fixed
// magic marker. Standard ABI decoders ignore trailing bytes beyond the static
// argument layout, so a memo can ride along any contract call.
package memo

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultPrefix is ASCII "MLTL".
	DefaultPrefix = "4d4c544c"

	// MaxPayloadBytes bounds the serialized JSON payload.
	MaxPayloadBytes = 65532
)

// Codec encodes and decodes memos behind one magic prefix.
type Codec struct {
	prefix string
}

// New returns a codec for the given hex prefix (with or without 0x).
func New(prefix string) (*Codec, error) {
	p := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(prefix, "0x"), "0X"))
	if p == "" {
		p = DefaultPrefix
	}
	if len(p)%2 != 0 {
		return nil, fmt.Errorf("memo prefix %q has odd length", prefix)
	}
	if _, err := hex.DecodeString(p); err != nil {
		return nil, fmt.Errorf("memo prefix %q is not hex: %w", prefix, err)
	}
	return &Codec{prefix: p}, nil
}

// Default returns the codec for DefaultPrefix.
func Default() *Codec {
	return &Codec{prefix: DefaultPrefix}
}

// Prefix returns the lower-case hex marker without 0x.
func (c *Codec) Prefix() string {
	return c.prefix
}

// Encode serializes v into 0x-prefixed memo hex. It reports false when v
// cannot be marshaled or its JSON is empty or larger than MaxPayloadBytes.
func (c *Codec) Encode(v any) (string, bool) {
	payload, err := json.Marshal(v)
	if err != nil || len(payload) == 0 || len(payload) > MaxPayloadBytes {
		return "", false
	}
	return "0x" + c.prefix + hex.EncodeToString(payload), true
}

// Decode extracts the memo value from raw calldata. The last occurrence of
// the marker that yields a valid payload wins. Any malformed payload reports
// false.
func (c *Codec) Decode(calldata string) (any, bool) {
	var v any
	if !c.DecodeInto(calldata, &v) {
		return nil, false
	}
	return v, true
}

// DecodeInto is Decode for callers with a concrete memo type.
func (c *Codec) DecodeInto(calldata string, v any) bool {
	payload, ok := c.payload(calldata)
	if !ok {
		return false
	}
	return json.Unmarshal(payload, v) == nil
}

// Text returns the human readable part of a memo: reason, then memo, then note.
func (c *Codec) Text(calldata string) (string, bool) {
	v, ok := c.Decode(calldata)
	if !ok {
		return "", false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	for _, key := range []string{"reason", "memo", "note"} {
		v, present := obj[key]
		if !present || v == nil {
			continue
		}
		text := stringify(v)
		if text == "" {
			return "", false
		}
		return text, true
	}
	return "", false
}

// Append concatenates memo hex onto existing calldata.
func Append(calldata, memoHex string) string {
	return calldata + strings.TrimPrefix(memoHex, "0x")
}

// payload walks the marker occurrences from the end and returns the first
// tail that decodes to valid JSON. Memo text may itself contain the marker.
func (c *Codec) payload(calldata string) ([]byte, bool) {
	data := strings.TrimPrefix(strings.ToLower(calldata), "0x")
	end := len(data)
	for {
		idx := strings.LastIndex(data[:end], c.prefix)
		if idx < 0 {
			return nil, false
		}
		if raw, ok := decodePayload(data[idx+len(c.prefix):]); ok {
			return raw, true
		}
		end = idx + len(c.prefix) - 1
	}
}

func decodePayload(hexPayload string) ([]byte, bool) {
	if len(hexPayload) == 0 || len(hexPayload)%2 != 0 {
		return nil, false
	}
	raw, err := hex.DecodeString(hexPayload)
	if err != nil || !utf8.Valid(raw) || !json.Valid(raw) {
		return nil, false
	}
	return raw, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool, float64:
		return fmt.Sprint(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
