package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/banshee-data/visibility.report/internal/interferometer/l1packets"
	"github.com/banshee-data/visibility.report/internal/interferometer/l3correlate"
	"github.com/banshee-data/visibility.report/internal/interferometer/l4accumulate"
	"github.com/banshee-data/visibility.report/internal/interferometer/pipeline"
)

// DefaultConfigPath is the path to the canonical correlator defaults file.
const DefaultConfigPath = "config/correlator.defaults.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// CorrelatorConfig holds the run parameters of the correlation pipeline.
// Omitted fields fall back to the defaults returned by the Get* methods, so
// partial files are safe.
type CorrelatorConfig struct {
	// Geometry
	Channels *int `json:"channels,omitempty"`
	Bins     *int `json:"bins,omitempty"`

	// Accumulation
	AccumulationDepth *int    `json:"accumulation_depth,omitempty"`
	PartialCycle      *string `json:"partial_cycle,omitempty"` // "drop" or "emit"

	// Mailbox eviction
	EvictionAge      *int64 `json:"eviction_age,omitempty"`
	EvictionInterval *int   `json:"eviction_interval,omitempty"`
	PendingHighWater *int   `json:"pending_high_water,omitempty"`

	// Stream handling
	MaxPackets       *int   `json:"max_packets,omitempty"`
	HandoffQueue     *int   `json:"handoff_queue,omitempty"`
	ProgressInterval *int64 `json:"progress_interval,omitempty"`

	// Calibration; relative paths resolve against the config file.
	GainsFile *string `json:"gains_file,omitempty"`
}

func ptrInt(v int) *int          { return &v }
func ptrInt64(v int64) *int64    { return &v }
func ptrString(v string) *string { return &v }

// DefaultCorrelatorConfig returns a config with every field set to its
// default value.
func DefaultCorrelatorConfig() *CorrelatorConfig {
	return &CorrelatorConfig{
		Channels:          ptrInt(4),
		Bins:              ptrInt(l1packets.DefaultBins),
		AccumulationDepth: ptrInt(10),
		PartialCycle:      ptrString(l4accumulate.PartialDrop.String()),
		EvictionAge:       ptrInt64(1000),
		EvictionInterval:  ptrInt(1000),
		PendingHighWater:  ptrInt(100),
		MaxPackets:        ptrInt(0),
		HandoffQueue:      ptrInt(0),
		ProgressInterval:  ptrInt64(10000),
	}
}

// LoadCorrelatorConfig loads a CorrelatorConfig from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadCorrelatorConfig(path string) (*CorrelatorConfig, error) {
	data, err := readJSONFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &CorrelatorConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if cfg.GainsFile != nil && *cfg.GainsFile != "" && !filepath.IsAbs(*cfg.GainsFile) {
		resolved := filepath.Join(filepath.Dir(filepath.Clean(path)), *cfg.GainsFile)
		cfg.GainsFile = &resolved
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching from the current
// directory up towards the repository root. It panics on failure and is
// intended for test setup.
func MustLoadDefaultConfig() *CorrelatorConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/interferometer/*
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadCorrelatorConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

func readJSONFile(path string) ([]byte, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return data, nil
}

// Validate checks that the configured values are usable.
func (c *CorrelatorConfig) Validate() error {
	if c.Channels != nil && (*c.Channels < 1 || *c.Channels > l1packets.MaxChannels) {
		return fmt.Errorf("channels must be between 1 and %d, got %d", l1packets.MaxChannels, *c.Channels)
	}
	if c.Bins != nil && *c.Bins < 1 {
		return fmt.Errorf("bins must be positive, got %d", *c.Bins)
	}
	if c.AccumulationDepth != nil && *c.AccumulationDepth < 1 {
		return fmt.Errorf("accumulation_depth must be positive, got %d", *c.AccumulationDepth)
	}
	if c.PartialCycle != nil {
		if _, err := l4accumulate.ParsePartialPolicy(*c.PartialCycle); err != nil {
			return fmt.Errorf("partial_cycle: %w", err)
		}
	}
	if c.EvictionAge != nil && *c.EvictionAge < 1 {
		return fmt.Errorf("eviction_age must be positive, got %d", *c.EvictionAge)
	}
	if c.EvictionInterval != nil && *c.EvictionInterval < 1 {
		return fmt.Errorf("eviction_interval must be positive, got %d", *c.EvictionInterval)
	}
	if c.PendingHighWater != nil && *c.PendingHighWater < 0 {
		return fmt.Errorf("pending_high_water must be non-negative, got %d", *c.PendingHighWater)
	}
	if c.MaxPackets != nil && *c.MaxPackets < 0 {
		return fmt.Errorf("max_packets must be non-negative, got %d", *c.MaxPackets)
	}
	if c.HandoffQueue != nil && *c.HandoffQueue < 0 {
		return fmt.Errorf("handoff_queue must be non-negative, got %d", *c.HandoffQueue)
	}
	if c.ProgressInterval != nil && *c.ProgressInterval < 0 {
		return fmt.Errorf("progress_interval must be non-negative, got %d", *c.ProgressInterval)
	}
	return nil
}

// GetChannels returns the channels value or the default.
func (c *CorrelatorConfig) GetChannels() int {
	if c.Channels == nil {
		return 4
	}
	return *c.Channels
}

// GetBins returns the bins value or the default.
func (c *CorrelatorConfig) GetBins() int {
	if c.Bins == nil {
		return l1packets.DefaultBins
	}
	return *c.Bins
}

// GetAccumulationDepth returns the accumulation_depth value or the default.
func (c *CorrelatorConfig) GetAccumulationDepth() int {
	if c.AccumulationDepth == nil {
		return 10
	}
	return *c.AccumulationDepth
}

// GetPartialCycle returns the partial_cycle policy, dropping partial
// cycles when unset or unparsable.
func (c *CorrelatorConfig) GetPartialCycle() l4accumulate.PartialPolicy {
	if c.PartialCycle == nil {
		return l4accumulate.PartialDrop
	}
	p, err := l4accumulate.ParsePartialPolicy(*c.PartialCycle)
	if err != nil {
		return l4accumulate.PartialDrop
	}
	return p
}

// GetEvictionAge returns the eviction_age value or the default.
func (c *CorrelatorConfig) GetEvictionAge() int64 {
	if c.EvictionAge == nil {
		return 1000
	}
	return *c.EvictionAge
}

// GetEvictionInterval returns the eviction_interval value or the default.
func (c *CorrelatorConfig) GetEvictionInterval() int {
	if c.EvictionInterval == nil {
		return 1000
	}
	return *c.EvictionInterval
}

// GetPendingHighWater returns the pending_high_water value or the default.
func (c *CorrelatorConfig) GetPendingHighWater() int {
	if c.PendingHighWater == nil {
		return 100
	}
	return *c.PendingHighWater
}

// GetMaxPackets returns the max_packets value or the default (0, no cap).
func (c *CorrelatorConfig) GetMaxPackets() int {
	if c.MaxPackets == nil {
		return 0
	}
	return *c.MaxPackets
}

// GetHandoffQueue returns the handoff_queue value or the default (0, sequential).
func (c *CorrelatorConfig) GetHandoffQueue() int {
	if c.HandoffQueue == nil {
		return 0
	}
	return *c.HandoffQueue
}

// GetProgressInterval returns the progress_interval value or the default.
func (c *CorrelatorConfig) GetProgressInterval() int64 {
	if c.ProgressInterval == nil {
		return 10000
	}
	return *c.ProgressInterval
}

// GetGainsFile returns the gains_file path, or "" for unity gains.
func (c *CorrelatorConfig) GetGainsFile() string {
	if c.GainsFile == nil {
		return ""
	}
	return *c.GainsFile
}

// PipelineConfig converts the file config into a pipeline configuration.
// gains may be nil for unity gain.
func (c *CorrelatorConfig) PipelineConfig(gains l3correlate.GainTable) pipeline.Config {
	return pipeline.Config{
		Channels:         c.GetChannels(),
		Bins:             c.GetBins(),
		Depth:            c.GetAccumulationDepth(),
		EvictionAge:      c.GetEvictionAge(),
		EvictionInterval: c.GetEvictionInterval(),
		PendingHighWater: c.GetPendingHighWater(),
		MaxPackets:       c.GetMaxPackets(),
		Partial:          c.GetPartialCycle(),
		Gains:            gains,
		HandoffQueue:     c.GetHandoffQueue(),
		ProgressInterval: c.GetProgressInterval(),
	}
}
