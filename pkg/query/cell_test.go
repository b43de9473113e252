package query

import (
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestCellLimits_Clamp(t *testing.T) {
	limits := DefaultCellLimits()
	long := strings.Repeat("x", 60000)
	wide := strings.Repeat("é", 50001)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want any
	}{
		{name: "Nil", in: nil, want: nil},
		{name: "Int64", in: int64(7), want: int64(7)},
		{name: "Int32", in: int32(7), want: int64(7)},
		{name: "Uint8", in: uint8(255), want: int64(255)},
		{name: "HugeUint64", in: uint64(1 << 63), want: "9223372036854775808"},
		{name: "Float32", in: float32(1.5), want: float64(1.5)},
		{name: "Bool", in: true, want: true},
		{name: "Time", in: ts, want: ts},
		{name: "BigInt", in: big.NewInt(42), want: int64(42)},
		{name: "ShortString", in: "hello", want: "hello"},
		{name: "SmallBinary", in: []byte{1, 2, 3}, want: []byte{1, 2, 3}},
		{name: "LargeBinary", in: make([]byte, 20000), want: "<binary data: 19.5 KiB>"},
		{name: "BinaryAtThreshold", in: make([]byte, 10000), want: make([]byte, 10000)},
		{name: "LongString", in: long, want: long[:50000] + TruncationMarker},
		{name: "StringAtThreshold", in: long[:50000], want: long[:50000]},
		{name: "MultibyteString", in: wide, want: strings.Repeat("é", 50000) + TruncationMarker},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := limits.Clamp(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Clamp() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBinarySummary(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{512, "<binary data: 512 B>"},
		{1024, "<binary data: 1.0 KiB>"},
		{20000, "<binary data: 19.5 KiB>"},
		{5 * 1024 * 1024, "<binary data: 5.0 MiB>"},
	}

	for _, tt := range tests {
		if got := BinarySummary(tt.n); got != tt.want {
			t.Errorf("BinarySummary(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestCellLimits_ClampRow(t *testing.T) {
	row := Row{int16(1), make([]byte, 20000), strings.Repeat("y", 60000)}
	got := DefaultCellLimits().ClampRow(row)

	if got[0] != int64(1) {
		t.Errorf("cell 0 = %#v, want int64(1)", got[0])
	}
	if got[1] != "<binary data: 19.5 KiB>" {
		t.Errorf("cell 1 = %v, want binary summary", got[1])
	}
	s, ok := got[2].(string)
	if !ok || len(s) != 50000+len(TruncationMarker) || !strings.HasSuffix(s, TruncationMarker) {
		t.Errorf("cell 2 not truncated to the threshold plus marker")
	}
}
