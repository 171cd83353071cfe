// Package config holds the collector's startup configuration. A Config is
// assembled from defaults, an optional YAML file, an optional JSON blob and
// an option string (typically the DORA_GC_OPTS environment variable), in
// that order, and is immutable once the heap has been created.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/inhies/go-bytesize"
	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v2"

	"github.com/playXE/dora/mem"
)

// EnvVar is the environment variable read by FromEnv.
const EnvVar = "DORA_GC_OPTS"

// MaxPromotionAge is the largest representable object age. The age counter
// lives in three header bits.
const MaxPromotionAge = 7

// Config describes the heap layout and collector policy.
type Config struct {
	// MaxHeapSize is the total capacity of the managed heap in bytes. No
	// generation ever grows past its share of this bound.
	MaxHeapSize bytesize.ByteSize

	// YoungSize is the young generation's share of the heap in bytes,
	// split into two equal semispaces. Zero selects a quarter of
	// MaxHeapSize.
	YoungSize bytesize.ByteSize

	// CardSize is the card granularity of the write barrier in bytes.
	// Must be a power of two.
	CardSize uint

	// PromotionAge is the number of minor collections an object must
	// survive before it is promoted into the old generation. Zero
	// promotes on the first collection an object survives.
	PromotionAge int

	// MajorThreshold is the old generation occupancy fraction above which
	// a collection triggered by allocation escalates to a major
	// collection.
	MajorThreshold float64

	// Verify runs the heap verifier after every collection.
	Verify bool

	// Log, when non-nil, receives one diagnostic line per collection.
	Log io.Writer
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		MaxHeapSize:    64 * bytesize.MB,
		YoungSize:      0, // derived in Normalized
		CardSize:       512,
		PromotionAge:   2,
		MajorThreshold: 0.8,
	}
}

// fileConfig is the YAML view of a Config. Sizes are strings so that both
// "33554432" and "32MB" parse.
type fileConfig struct {
	MaxHeapSize    string   `yaml:"max-heap-size"`
	YoungSize      string   `yaml:"young-size"`
	CardSize       *uint    `yaml:"card-size"`
	PromotionAge   *int     `yaml:"promotion-age"`
	MajorThreshold *float64 `yaml:"major-threshold"`
	Verify         *bool    `yaml:"gc-verify"`
}

// Load reads a YAML configuration and overlays it on c.
func (c Config) Load(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return c, err
	}
	var fc fileConfig
	if err := yaml.UnmarshalStrict(data, &fc); err != nil {
		return c, fmt.Errorf("config: %w", err)
	}
	if fc.MaxHeapSize != "" {
		if c.MaxHeapSize, err = bytesize.Parse(fc.MaxHeapSize); err != nil {
			return c, fmt.Errorf("config: max-heap-size: %w", err)
		}
	}
	if fc.YoungSize != "" {
		if c.YoungSize, err = bytesize.Parse(fc.YoungSize); err != nil {
			return c, fmt.Errorf("config: young-size: %w", err)
		}
	}
	if fc.CardSize != nil {
		c.CardSize = *fc.CardSize
	}
	if fc.PromotionAge != nil {
		c.PromotionAge = *fc.PromotionAge
	}
	if fc.MajorThreshold != nil {
		c.MajorThreshold = *fc.MajorThreshold
	}
	if fc.Verify != nil {
		c.Verify = *fc.Verify
	}
	return c, nil
}

// LoadFile reads a YAML configuration file and overlays it on c.
func (c Config) LoadFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()
	return c.Load(f)
}

// ParseJSON overlays a JSON configuration blob on c. Size values may be
// numbers or bytesize strings.
func (c Config) ParseJSON(data []byte) (Config, error) {
	if len(data) == 0 {
		return c, nil
	}
	if !gjson.ValidBytes(data) {
		return c, fmt.Errorf("config: invalid json: %q", data)
	}
	j := gjson.ParseBytes(data)
	var err error
	if v := j.Get("max-heap-size"); v.Exists() {
		if c.MaxHeapSize, err = parseSize(v); err != nil {
			return c, fmt.Errorf("config: max-heap-size: %w", err)
		}
	}
	if v := j.Get("young-size"); v.Exists() {
		if c.YoungSize, err = parseSize(v); err != nil {
			return c, fmt.Errorf("config: young-size: %w", err)
		}
	}
	if v := j.Get("card-size"); v.Exists() {
		c.CardSize = uint(v.Uint())
	}
	if v := j.Get("promotion-age"); v.Exists() {
		c.PromotionAge = int(v.Int())
	}
	if v := j.Get("major-threshold"); v.Exists() {
		c.MajorThreshold = v.Float()
	}
	if v := j.Get("gc-verify"); v.Exists() {
		c.Verify = v.Bool()
	}
	return c, nil
}

func parseSize(v gjson.Result) (bytesize.ByteSize, error) {
	if v.Type == gjson.Number {
		return bytesize.ByteSize(v.Uint()), nil
	}
	return bytesize.Parse(v.String())
}

// ParseOptions overlays a whitespace separated option string on c, e.g.
//
//	max-heap-size=32MB young-size=4MB promotion-age=1 gc-verify
//
// Boolean options may omit the value.
func (c Config) ParseOptions(opts string) (Config, error) {
	fields, err := shlex.Split(opts)
	if err != nil {
		return c, fmt.Errorf("config: options %q: %w", opts, err)
	}
	for _, field := range fields {
		key, value, hasValue := strings.Cut(field, "=")
		switch key {
		case "max-heap-size", "young-size":
			if !hasValue {
				return c, fmt.Errorf("config: option %s needs a value", key)
			}
			size, err := bytesize.Parse(value)
			if err != nil {
				return c, fmt.Errorf("config: %s: %w", key, err)
			}
			if key == "max-heap-size" {
				c.MaxHeapSize = size
			} else {
				c.YoungSize = size
			}
		case "card-size":
			n, err := strconv.ParseUint(value, 10, 32)
			if err != nil {
				return c, fmt.Errorf("config: card-size: %w", err)
			}
			c.CardSize = uint(n)
		case "promotion-age":
			n, err := strconv.Atoi(value)
			if err != nil {
				return c, fmt.Errorf("config: promotion-age: %w", err)
			}
			c.PromotionAge = n
		case "major-threshold":
			f, err := strconv.ParseFloat(value, 64)
			if err != nil {
				return c, fmt.Errorf("config: major-threshold: %w", err)
			}
			c.MajorThreshold = f
		case "gc-verify":
			if !hasValue {
				c.Verify = true
				break
			}
			b, err := strconv.ParseBool(value)
			if err != nil {
				return c, fmt.Errorf("config: gc-verify: %w", err)
			}
			c.Verify = b
		default:
			return c, fmt.Errorf("config: unknown option %q", key)
		}
	}
	return c, nil
}

// FromEnv overlays the DORA_GC_OPTS environment variable on c.
func (c Config) FromEnv() (Config, error) {
	opts := os.Getenv(EnvVar)
	if opts == "" {
		return c, nil
	}
	return c.ParseOptions(opts)
}

// Validate reports the first configuration error, if any.
func (c Config) Validate() error {
	page := mem.PageSize()
	if c.MaxHeapSize == 0 {
		return fmt.Errorf("config: max-heap-size must be positive")
	}
	if c.YoungSize > c.MaxHeapSize/2 {
		return fmt.Errorf("config: young-size %v exceeds half of max-heap-size %v", c.YoungSize, c.MaxHeapSize)
	}
	if c.CardSize == 0 || c.CardSize&(c.CardSize-1) != 0 {
		return fmt.Errorf("config: card-size %d is not a power of two", c.CardSize)
	}
	if c.PromotionAge < 0 || c.PromotionAge > MaxPromotionAge {
		return fmt.Errorf("config: promotion-age %d outside 0..%d", c.PromotionAge, MaxPromotionAge)
	}
	if c.MajorThreshold <= 0 || c.MajorThreshold > 1 {
		return fmt.Errorf("config: major-threshold %v outside (0, 1]", c.MajorThreshold)
	}
	if uintptr(c.MaxHeapSize) < 4*page {
		return fmt.Errorf("config: max-heap-size %v below minimum of 4 pages", c.MaxHeapSize)
	}
	return nil
}

// Normalized derives unset values, aligns the regions to page boundaries and
// validates the result. NewHeap calls this; it is exported so callers can
// inspect the effective configuration.
func (c Config) Normalized() (Config, error) {
	page := mem.PageSize()
	c.MaxHeapSize = bytesize.ByteSize(mem.RoundUp(uintptr(c.MaxHeapSize), page))
	if c.YoungSize == 0 {
		c.YoungSize = c.MaxHeapSize / 4
	}
	// Each semispace must be a whole number of pages.
	c.YoungSize = bytesize.ByteSize(mem.RoundUp(uintptr(c.YoungSize), 2*page))
	if c.YoungSize > c.MaxHeapSize/2 {
		c.YoungSize = bytesize.ByteSize(uintptr(c.MaxHeapSize/2) &^ (2*page - 1))
	}
	if err := c.Validate(); err != nil {
		return c, err
	}
	if c.YoungSize == 0 {
		return c, fmt.Errorf("config: heap too small for a young generation")
	}
	return c, nil
}
