package config

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ByteSize is a byte count that accepts human-readable values in config
// files: "500KB", "1.5GB", or a raw number of bytes. Units are powers of
// 1024.
type ByteSize int64

// byteUnits maps unit suffixes to their multiplier, longest first so "MB"
// wins over "B".
var byteUnits = []struct {
	suffix     string
	multiplier float64
}{
	{"TB", 1 << 40},
	{"GB", 1 << 30},
	{"MB", 1 << 20},
	{"KB", 1 << 10},
	{"B", 1},
}

// ParseByteSize parses a human-readable byte size.
func ParseByteSize(s string) (ByteSize, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty byte size")
	}

	upper := strings.ToUpper(s)
	for _, unit := range byteUnits {
		if !strings.HasSuffix(upper, unit.suffix) {
			continue
		}
		number := strings.TrimSpace(strings.TrimSuffix(upper, unit.suffix))
		value, err := strconv.ParseFloat(number, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid byte size %q", s)
		}
		if value < 0 {
			return 0, fmt.Errorf("negative byte size %q", s)
		}
		return ByteSize(value * unit.multiplier), nil
	}

	raw, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q", s)
	}
	if raw < 0 {
		return 0, fmt.Errorf("negative byte size %q", s)
	}
	return ByteSize(raw), nil
}

// Int64 returns the size in bytes.
func (b ByteSize) Int64() int64 {
	return int64(b)
}

// String renders the size with the largest unit that divides it cleanly.
func (b ByteSize) String() string {
	return FormatByteSize(int64(b))
}

// UnmarshalText implements encoding.TextUnmarshaler for Viper/YAML support.
func (b *ByteSize) UnmarshalText(text []byte) error {
	parsed, err := ParseByteSize(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// UnmarshalJSON accepts either a string ("5MB") or a raw byte count.
func (b *ByteSize) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return b.UnmarshalText([]byte(s))
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid byte size: %s", string(data))
	}
	*b = ByteSize(n)
	return nil
}

// MarshalJSON renders the human-readable form.
func (b ByteSize) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

// FormatByteSize renders a byte count for display, e.g. in `config dump`.
func FormatByteSize(n int64) string {
	if n < 0 {
		return strconv.FormatInt(n, 10)
	}
	for _, unit := range byteUnits[:len(byteUnits)-1] {
		m := int64(unit.multiplier)
		if n >= m && n%m == 0 {
			return fmt.Sprintf("%d%s", n/m, unit.suffix)
		}
	}
	return strconv.FormatInt(n, 10)
}
