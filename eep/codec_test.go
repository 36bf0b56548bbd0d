package eep

import (
	"errors"
	"math"
	"testing"
)

func mustLoad(t *testing.T, defs ...Profile) *Registry {
	t.Helper()
	r, err := Load(defs)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return r
}

func mustResolve(t *testing.T, r *Registry, s string) *Profile {
	t.Helper()
	id, err := ParseID(s)
	if err != nil {
		t.Fatal(err)
	}
	p, err := r.Resolve(id)
	if err != nil {
		t.Fatalf("Resolve(%v) error = %v", id, err)
	}
	return p
}

func TestRawValue(t *testing.T) {
	payload := []byte{0x8f, 0x00, 0x80, 0x0a}
	tests := []struct {
		off, size int
		want      uint64
		ok        bool
	}{
		{0, 1, 1, true},
		{1, 3, 0, true},
		{4, 4, 0xf, true},
		{0, 8, 0x8f, true},
		{4, 8, 0xf0, true},
		{16, 8, 0x80, true},
		{0, 32, 0x8f00800a, true},
		{28, 4, 0xa, true},
		{29, 4, 0, false},
		{32, 1, 0, false},
		{-1, 1, 0, false},
	}
	for _, tt := range tests {
		got, ok := rawValue(payload, tt.off, tt.size)
		if ok != tt.ok || got != tt.want {
			t.Errorf("rawValue(%d, %d) = %#x, %v, want %#x, %v", tt.off, tt.size, got, ok, tt.want, tt.ok)
		}
	}
}

func TestPutRaw(t *testing.T) {
	payload := []byte{0xff, 0x00}
	if !putRaw(payload, 4, 8, 0x5a) {
		t.Fatal("putRaw() failed")
	}
	if payload[0] != 0xf5 || payload[1] != 0xa0 {
		t.Errorf("payload = % x, want f5 a0", payload)
	}
	if putRaw(payload, 12, 8, 1) {
		t.Error("putRaw() beyond payload succeeded")
	}
}

func TestDecodeInvertedBool(t *testing.T) {
	r := mustLoad(t, Profile{
		ID: ID{RORG: BS4, Func: 0x30, Type: 0x01},
		Fields: []Field{
			{Shortcut: "alarm", Offset: 0, Size: 1, RawMin: 0, RawMax: 1, ScaleMin: 0, ScaleMax: 1, Invert: true, Kind: KindBool},
		},
	})
	v, err := Decode([]byte{0x8f, 0x00, 0x00, 0x00}, mustResolve(t, r, "A5-30-01"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if v["alarm"] != false {
		t.Errorf("alarm = %v, want false", v["alarm"])
	}
	if len(v) != 1 {
		t.Errorf("got %d values, want 1", len(v))
	}
}

func TestDecodeRescale(t *testing.T) {
	p := &Profile{
		ID: ID{RORG: BS4, Func: 0x02, Type: 0x05},
		Fields: []Field{
			{Shortcut: "up", Offset: 0, Size: 8, RawMin: 0, RawMax: 250, ScaleMin: 0, ScaleMax: 40},
			{Shortcut: "down", Offset: 8, Size: 8, RawMin: 255, RawMax: 0, ScaleMin: -40, ScaleMax: 0},
			{Shortcut: "flat", Offset: 16, Size: 8, RawMin: 5, RawMax: 5, ScaleMin: -10, ScaleMax: 10},
		},
	}
	tests := []struct {
		name    string
		payload []byte
		want    map[string]float64
	}{
		{"minimum", []byte{0, 255, 0, 0}, map[string]float64{"up": 0, "down": -40, "flat": -10}},
		{"maximum", []byte{250, 0, 255, 0}, map[string]float64{"up": 40, "down": 0, "flat": -10}},
		{"middle", []byte{125, 0x80, 5, 0}, map[string]float64{"up": 20, "down": -40 + 127.0*40/255, "flat": -10}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.payload, p)
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			for k, want := range tt.want {
				got, ok := v[k].(float64)
				if !ok {
					t.Fatalf("%s = %T, want float64", k, v[k])
				}
				if math.Abs(got-want) > 1e-9 {
					t.Errorf("%s = %v, want %v", k, got, want)
				}
			}
		})
	}

	// The boundaries are exact, not just close
	v, _ := Decode([]byte{0, 0, 0, 0}, p)
	if v["down"] != 0.0 {
		t.Errorf("down at raw max = %v, want exactly 0", v["down"])
	}
}

func TestDecodeProfiles(t *testing.T) {
	r, err := LoadDir("../definitions")
	if err != nil {
		t.Fatalf("LoadDir() error = %v", err)
	}
	tests := []struct {
		eep     string
		payload []byte
		want    Values
	}{
		{"F6-02-01", []byte{0x50}, Values{"R1": "BI", "EB": true, "R2": "AI", "SA": false}},
		{"F6-02-01", []byte{0x37}, Values{"R1": "A0", "EB": true, "R2": "B0", "SA": true}},
		{"D5-00-01", []byte{0x09}, Values{"LRN": false, "CO": true}},
		{"D5-00-01", []byte{0x00}, Values{"LRN": true, "CO": false}},
		{"A5-02-05", []byte{0x00, 0x00, 0xff, 0x08}, Values{"TMP": 0.0, "LRNB": false}},
		{"A5-04-01", []byte{0x00, 0xfa, 0x00, 0x0a}, Values{"HUM": 100.0, "TMP": 0.0, "TSN": "available"}},
	}
	for _, tt := range tests {
		t.Run(tt.eep, func(t *testing.T) {
			v, err := Decode(tt.payload, mustResolve(t, r, tt.eep))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if len(v) != len(tt.want) {
				t.Errorf("got %d values, want %d", len(v), len(tt.want))
			}
			for k, want := range tt.want {
				if v[k] != want {
					t.Errorf("%s = %v (%T), want %v (%T)", k, v[k], v[k], want, want)
				}
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	r, err := LoadDir("../definitions")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name    string
		eep     string
		payload []byte
		field   string
		raw     uint64
		wantErr error
	}{
		{"unmapped enum", "F6-02-01", []byte{0x80}, "R1", 4, ErrUnmapped},
		{"short payload", "A5-02-05", []byte{0x00, 0x00}, "TMP", 0, ErrOutOfRange},
		{"empty payload", "D5-00-01", nil, "LRN", 0, ErrOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode(tt.payload, mustResolve(t, r, tt.eep))
			if v != nil {
				t.Errorf("Decode() returned partial values %v", v)
			}
			var ee *ExtractionError
			if !errors.As(err, &ee) {
				t.Fatalf("Decode() error = %v, want *ExtractionError", err)
			}
			if ee.Field != tt.field || ee.Raw != tt.raw {
				t.Errorf("ExtractionError = %+v, want field %s raw %d", ee, tt.field, tt.raw)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	r, err := LoadDir("../definitions")
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		eep    string
		values Values
	}{
		{"A5-04-01", Values{"HUM": 50.0, "TMP": 20.0, "TSN": "available"}},
		{"A5-02-05", Values{"TMP": 40.0, "LRNB": false}},
		{"A5-38-08", Values{"COM": "switching", "TIM": 12.5, "LCK": false, "DEL": true, "SW": true}},
		{"F6-02-01", Values{"R1": "B0", "EB": true, "R2": "AI", "SA": false}},
		{"D5-00-01", Values{"LRN": false, "CO": true}},
		{"D2-01-01", Values{"CMD": "status response", "PF": false, "IO": 1.0, "OV": 100.0}},
	}
	for _, tt := range tests {
		t.Run(tt.eep, func(t *testing.T) {
			p := mustResolve(t, r, tt.eep)
			payload, err := Encode(tt.values, p, 0)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if len(payload) != p.PayloadSize() {
				t.Errorf("payload of %d bytes, want %d", len(payload), p.PayloadSize())
			}
			got, err := Decode(payload, p)
			if err != nil {
				t.Fatalf("Decode(% x) error = %v", payload, err)
			}
			for k, want := range tt.values {
				switch w := want.(type) {
				case float64:
					if g, ok := got[k].(float64); !ok || math.Abs(g-w) > 1e-9 {
						t.Errorf("%s = %v, want %v", k, got[k], w)
					}
				default:
					if got[k] != want {
						t.Errorf("%s = %v, want %v", k, got[k], want)
					}
				}
			}
		})
	}
}

func TestEncodeErrors(t *testing.T) {
	r, err := LoadDir("../definitions")
	if err != nil {
		t.Fatal(err)
	}
	p := mustResolve(t, r, "A5-04-01")
	for _, v := range []Values{
		{"HUM": "wet"},
		{"HUM": 200.0},
		{"TSN": "maybe"},
	} {
		if _, err := Encode(v, p, 4); !errors.Is(err, ErrValue) {
			t.Errorf("Encode(%v) error = %v, want ErrValue", v, err)
		}
	}
}

func TestEncodeRepeatedLabel(t *testing.T) {
	r, err := LoadDir("../definitions")
	if err != nil {
		t.Fatal(err)
	}
	p := mustResolve(t, r, "F6-02-01")
	f, _ := p.Field("R2")
	// "AI" is mapped from raw 0 and raw 4, map order must not matter
	for i := 0; i < 50; i++ {
		raw, err := codecFor(f).Encode(f, "AI")
		if err != nil {
			t.Fatal(err)
		}
		if raw != 0 {
			t.Fatalf("Encode(AI) = %d, want 0", raw)
		}
	}
	if raw, _ := codecFor(f).Encode(f, "B0"); raw != 3 {
		t.Errorf("Encode(B0) = %d, want 3", raw)
	}
}
