package cache

import (
	"bytes"
	"compress/zlib"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
)

// compressedMarker prefixes zlib-compressed payloads.
var compressedMarker = []byte("COMPRESSED:")

// DefaultCompressionThreshold is the payload size above which values are compressed.
const DefaultCompressionThreshold = 1024

type codec struct {
	threshold int
}

// encode writes maps, slices, arrays and structs as JSON and everything else
// as gob, then compresses payloads above the threshold.
func (c codec) encode(v any) ([]byte, error) {
	var (
		raw []byte
		err error
	)
	if structured(v) {
		raw, err = json.Marshal(v)
	} else {
		var buf bytes.Buffer
		err = gob.NewEncoder(&buf).Encode(v)
		raw = buf.Bytes()
	}
	if err != nil {
		return nil, fmt.Errorf("serialize cache value failed: %w", err)
	}

	if c.threshold > 0 && len(raw) > c.threshold {
		var buf bytes.Buffer
		buf.Write(compressedMarker)
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(raw); err != nil {
			return nil, fmt.Errorf("compress cache value failed: %w", err)
		}
		if err := zw.Close(); err != nil {
			return nil, fmt.Errorf("compress cache value failed: %w", err)
		}
		return buf.Bytes(), nil
	}
	return raw, nil
}

// decode reverses encode into dest, which must be a pointer.
func (c codec) decode(data []byte, dest any) error {
	if bytes.HasPrefix(data, compressedMarker) {
		zr, err := zlib.NewReader(bytes.NewReader(data[len(compressedMarker):]))
		if err != nil {
			return fmt.Errorf("decompress cache value failed: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return fmt.Errorf("decompress cache value failed: %w", err)
		}
	}

	if json.Valid(data) {
		if err := json.Unmarshal(data, dest); err != nil {
			return fmt.Errorf("decode cached json failed: %w", err)
		}
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(dest); err != nil {
		return fmt.Errorf("decode cached gob failed: %w", err)
	}
	return nil
}

func structured(v any) bool {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return false
	}
	switch t.Kind() {
	case reflect.Map, reflect.Slice, reflect.Array, reflect.Struct:
		return true
	}
	return false
}

// Entry is a raw cached payload returned by GetMultiple.
type Entry struct {
	data  []byte
	codec codec
}

func (e Entry) Decode(dest any) error {
	return e.codec.decode(e.data, dest)
}
