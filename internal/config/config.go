// Package config holds the tuning knobs the engine, decoder pool, ring
// fabric, and mixer are constructed with. A profile can be persisted as JSON
// at os.UserConfigDir()/cuecore/engine.json so a host can tune once and reuse
// the result across runs.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"cuecore/internal/waterline"
)

// EngineConfig holds every knob named in the configuration surface: a fixed
// trio (SampleRate, Channels, BlockFrames) that sizes every buffer, plus the
// remaining knobs. engine.New copies the config into the engine, decoder pool
// and mixer; no exported call changes those copies afterwards, so every knob
// keeps its construction-time value for the engine's lifetime.
type EngineConfig struct {
	// Fixed at construction. Changing these after engine.New requires a new
	// engine — every ring, decoder, and mixer buffer is sized against them.
	SampleRate  int `json:"sample_rate"`
	Channels    int `json:"channels"`
	BlockFrames int `json:"block_frames"`

	// Tuning knobs (fixed once engine.New has copied them, as above).
	MaxConcurrentDecodings int `json:"max_concurrent_decodings"`
	PoolWorkers            int `json:"pool_workers"`
	TargetChunkFrames      int `json:"target_chunk_frames"`
	LookaheadFrames        int `json:"lookahead_frames"`

	LowWaterMult      int `json:"low_water_mult"`
	LowWaterMultBurst int `json:"low_water_mult_burst"`
	RequestMult       int `json:"request_mult"`
	RequestMultBurst  int `json:"request_mult_burst"`
	BurstThreshold    int `json:"burst_threshold"`

	TelemetrySkipThreshold int `json:"telemetry_skip_threshold"`
	TelemetryHz            int `json:"telemetry_hz"`

	StaggerThreshold int `json:"stagger_threshold"`
	StaggerDelayMS   int `json:"stagger_delay_ms"`

	StuckTimeoutMS        int `json:"stuck_timeout_ms"`
	RefadeGraceMS         int `json:"refade_grace_ms"`
	RefadeCheckIntervalMS int `json:"refade_check_interval_ms"`
	RefadeMaxAttempts     int `json:"refade_max_attempts"`

	// AbsoluteTimeMode selects the orchestrator's CueTimeEvent calculation:
	// false (default) reports elapsed/remaining relative to the trim window
	// (trimmed-relative); true reports elapsed as an offset into the whole
	// source file (absolute-file).
	AbsoluteTimeMode bool `json:"absolute_time_mode"`
}

// Default returns the configuration the engine ships with: a 48kHz stereo
// core, a 4-worker decoder pool (or fewer on machines with fewer cores), and
// the burst/refade/stagger thresholds the orchestrator and mixer are tuned
// against.
func Default() EngineConfig {
	workers := runtime.NumCPU()
	if workers > 4 {
		workers = 4
	}
	if workers < 1 {
		workers = 1
	}
	const blockFrames = 2048
	return EngineConfig{
		SampleRate:  48000,
		Channels:    2,
		BlockFrames: blockFrames,

		MaxConcurrentDecodings: 6,
		PoolWorkers:            workers,
		TargetChunkFrames:      blockFrames * 8,
		LookaheadFrames:        blockFrames * 4,

		LowWaterMult:      4,
		LowWaterMultBurst: 8,
		RequestMult:       1,
		RequestMultBurst:  12,
		BurstThreshold:    8,

		TelemetrySkipThreshold: 6,
		TelemetryHz:            20,

		StaggerThreshold: 6,
		StaggerDelayMS:   1,

		StuckTimeoutMS:        30000,
		RefadeGraceMS:         200,
		RefadeCheckIntervalMS: 50,
		RefadeMaxAttempts:     3,
	}
}

// Validate reports the first structural problem found in cfg, if any. It
// does not second-guess tuning choices — only rejects values that would make
// the engine meaningless (zero or negative sizes, an empty worker pool).
func (c EngineConfig) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.SampleRate)
	case c.Channels <= 0:
		return fmt.Errorf("config: channels must be positive, got %d", c.Channels)
	case c.BlockFrames <= 0:
		return fmt.Errorf("config: block_frames must be positive, got %d", c.BlockFrames)
	case c.MaxConcurrentDecodings <= 0:
		return fmt.Errorf("config: max_concurrent_decodings must be positive, got %d", c.MaxConcurrentDecodings)
	case c.PoolWorkers <= 0:
		return fmt.Errorf("config: pool_workers must be positive, got %d", c.PoolWorkers)
	case c.RefadeMaxAttempts <= 0:
		return fmt.Errorf("config: refade_max_attempts must be positive, got %d", c.RefadeMaxAttempts)
	}
	return nil
}

// WaterlineParams projects the watermark/credit/stagger knobs into a
// waterline.Params value, so the mixer and engine never read the
// package-level waterline constants directly — every call site is driven
// off whatever this config was constructed or reloaded with.
func (c EngineConfig) WaterlineParams() waterline.Params {
	return waterline.Params{
		LowWaterMult:      c.LowWaterMult,
		LowWaterMultBurst: c.LowWaterMultBurst,
		RequestMult:       c.RequestMult,
		RequestMultBurst:  c.RequestMultBurst,
		BurstThreshold:    c.BurstThreshold,
		StaggerThreshold:  c.StaggerThreshold,
	}
}

// Path returns the absolute path to a persisted engine tuning profile.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "cuecore", "engine.json"), nil
}

// Load reads a persisted profile and returns it layered over Default — a
// missing or corrupt file is not an error, it just yields defaults.
func Load() EngineConfig {
	path, err := Path()
	if err != nil {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Default()
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default()
	}
	return cfg
}

// Save writes cfg to disk as a reusable tuning profile, creating the
// directory if needed.
func Save(cfg EngineConfig) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
