package eep

import (
	"fmt"
	"math"
)

// Codec converts between the raw bits of a Field and its typed value.
// Fields are validated by the Registry before a codec is assigned, so codecs only do minimal checking.
type Codec interface {
	Decode(f *Field, raw uint64) (v interface{}, err error)
	Encode(f *Field, v interface{}) (raw uint64, err error)
}

var codecs = map[FieldKind]Codec{
	KindValue: scaleCodec{},
	KindEnum:  enumCodec{},
	KindBool:  boolCodec{},
}

func codecFor(f *Field) Codec {
	if f.codec != nil {
		return f.codec
	}
	return codecs[f.Kind]
}

type scaleCodec struct{}

func (scaleCodec) Decode(f *Field, raw uint64) (interface{}, error) {
	if f.RawMax == f.RawMin {
		return f.ScaleMin, nil
	}
	r := int64(raw)
	switch r {
	case f.RawMin:
		return f.ScaleMin, nil
	case f.RawMax:
		return f.ScaleMax, nil
	}
	return f.ScaleMin + float64(r-f.RawMin)*(f.ScaleMax-f.ScaleMin)/float64(f.RawMax-f.RawMin), nil
}

func (scaleCodec) Encode(f *Field, v interface{}) (uint64, error) {
	x, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("%w: %T is not numeric", ErrValue, v)
	}
	if f.ScaleMax == f.ScaleMin || f.RawMax == f.RawMin {
		return uint64(f.RawMin), nil
	}
	r := math.Round(float64(f.RawMin) + (x-f.ScaleMin)*float64(f.RawMax-f.RawMin)/(f.ScaleMax-f.ScaleMin))
	if r < 0 || r > float64(maxRaw(f.Size)) {
		return 0, fmt.Errorf("%w: %v maps to raw %v", ErrValue, x, r)
	}
	return uint64(r), nil
}

type enumCodec struct{}

func (enumCodec) Decode(f *Field, raw uint64) (interface{}, error) {
	label, ok := f.Enum[raw]
	if !ok {
		return nil, ErrUnmapped
	}
	return label, nil
}

func (enumCodec) Encode(f *Field, v interface{}) (uint64, error) {
	if s, ok := v.(string); ok {
		// Labels may repeat, the lowest raw value wins
		found := false
		var res uint64
		for raw, label := range f.Enum {
			if label == s && (!found || raw < res) {
				res, found = raw, true
			}
		}
		if !found {
			return 0, fmt.Errorf("%w: no raw value for label %q", ErrValue, s)
		}
		return res, nil
	}
	x, ok := toFloat(v)
	if !ok || x < 0 || x != math.Trunc(x) {
		return 0, fmt.Errorf("%w: %v", ErrValue, v)
	}
	if _, ok := f.Enum[uint64(x)]; !ok {
		return 0, fmt.Errorf("%w: %v", ErrUnmapped, v)
	}
	return uint64(x), nil
}

// boolCodec maps first and inverts afterwards
type boolCodec struct{}

func (boolCodec) Decode(f *Field, raw uint64) (interface{}, error) {
	b := raw != 0
	if f.Invert {
		b = !b
	}
	return b, nil
}

func (boolCodec) Encode(f *Field, v interface{}) (uint64, error) {
	b, ok := v.(bool)
	if !ok {
		return 0, fmt.Errorf("%w: %T is not bool", ErrValue, v)
	}
	if f.Invert {
		b = !b
	}
	if b {
		return 1, nil
	}
	return 0, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

func maxRaw(size int) uint64 {
	return 1<<uint(size) - 1
}

// rawValue returns the size bits starting at bit off, bit 0 being the MSB of payload[0]
func rawValue(payload []byte, off, size int) (uint64, bool) {
	if off < 0 || size < 1 || off+size > len(payload)*8 {
		return 0, false
	}
	var v uint64
	for bit := off; bit < off+size; bit++ {
		v = v<<1 | uint64(payload[bit/8]>>(7-uint(bit%8))&1)
	}
	return v, true
}

// putRaw is the inverse of rawValue. Bits outside the field are left untouched.
func putRaw(payload []byte, off, size int, v uint64) bool {
	if off < 0 || size < 1 || off+size > len(payload)*8 {
		return false
	}
	for i := size - 1; i >= 0; i-- {
		bit := off + i
		mask := byte(1) << (7 - uint(bit%8))
		if v&1 == 1 {
			payload[bit/8] |= mask
		} else {
			payload[bit/8] &^= mask
		}
		v >>= 1
	}
	return true
}

// Decode extracts every field of p from payload. It fails as a whole on the first field that can not be decoded.
func Decode(payload []byte, p *Profile) (Values, error) {
	v := make(Values, len(p.Fields))
	for i := range p.Fields {
		f := &p.Fields[i]
		raw, ok := rawValue(payload, f.Offset, f.Size)
		if !ok {
			return nil, &ExtractionError{Profile: p.ID, Field: f.Shortcut, Err: fmt.Errorf("%w: bits %d..%d of %d", ErrOutOfRange, f.Offset, f.Offset+f.Size, len(payload)*8)}
		}
		x, err := codecFor(f).Decode(f, raw)
		if err != nil {
			return nil, &ExtractionError{Profile: p.ID, Field: f.Shortcut, Raw: raw, Err: err}
		}
		v[f.Shortcut] = x
	}
	return v, nil
}

// Encode builds a payload of size bytes from values. Fields without a value are left 0.
// A size below p.PayloadSize() is raised to it.
func Encode(values Values, p *Profile, size int) ([]byte, error) {
	if n := p.PayloadSize(); size < n {
		size = n
	}
	payload := make([]byte, size)
	for i := range p.Fields {
		f := &p.Fields[i]
		x, ok := values[f.Shortcut]
		if !ok {
			continue
		}
		raw, err := codecFor(f).Encode(f, x)
		if err != nil {
			return nil, &ExtractionError{Profile: p.ID, Field: f.Shortcut, Err: err}
		}
		if raw > maxRaw(f.Size) {
			return nil, &ExtractionError{Profile: p.ID, Field: f.Shortcut, Raw: raw, Err: ErrValue}
		}
		if !putRaw(payload, f.Offset, f.Size, raw) {
			return nil, &ExtractionError{Profile: p.ID, Field: f.Shortcut, Raw: raw, Err: ErrOutOfRange}
		}
	}
	return payload, nil
}
