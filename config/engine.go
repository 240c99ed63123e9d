package config

import (
	"time"

	"github.com/spf13/viper"
)

// Engine holds the sync engine tunables.
type Engine struct {
	Modules        []string      `json:"modules" yaml:"modules"`
	BatchSize      int           `json:"batch_size" yaml:"batch_size"`
	MaxIterations  int           `json:"max_iterations" yaml:"max_iterations"`
	TimeBudget     time.Duration `json:"time_budget" yaml:"time_budget"`
	MemoryCeiling  uint64        `json:"memory_ceiling" yaml:"memory_ceiling"` // bytes
	TickInterval   time.Duration `json:"tick_interval" yaml:"tick_interval"`
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay      time.Duration `json:"base_delay" yaml:"base_delay"`
	MaxPayloadSize int           `json:"max_payload_size" yaml:"max_payload_size"` // bytes
	Debounce       time.Duration `json:"debounce" yaml:"debounce"`
	StaleTimeout   time.Duration `json:"stale_timeout" yaml:"stale_timeout"`
	LockTTL        time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
	DryRun         bool          `json:"dry_run" yaml:"dry_run"`
}

func getEngineConfig(v *viper.Viper) *Engine {
	v.SetDefault("engine.batch_size", 50)
	v.SetDefault("engine.max_iterations", 10)
	v.SetDefault("engine.time_budget", 45*time.Second)
	v.SetDefault("engine.memory_ceiling", uint64(256<<20))
	v.SetDefault("engine.tick_interval", time.Minute)
	v.SetDefault("engine.max_attempts", 3)
	v.SetDefault("engine.base_delay", 30*time.Second)
	v.SetDefault("engine.max_payload_size", 1<<20)
	v.SetDefault("engine.debounce", 5*time.Second)
	v.SetDefault("engine.stale_timeout", 10*time.Minute)
	v.SetDefault("engine.lock_ttl", 5*time.Minute)
	return &Engine{
		Modules:        v.GetStringSlice("engine.modules"),
		BatchSize:      v.GetInt("engine.batch_size"),
		MaxIterations:  v.GetInt("engine.max_iterations"),
		TimeBudget:     v.GetDuration("engine.time_budget"),
		MemoryCeiling:  v.GetUint64("engine.memory_ceiling"),
		TickInterval:   v.GetDuration("engine.tick_interval"),
		MaxAttempts:    v.GetInt("engine.max_attempts"),
		BaseDelay:      v.GetDuration("engine.base_delay"),
		MaxPayloadSize: v.GetInt("engine.max_payload_size"),
		Debounce:       v.GetDuration("engine.debounce"),
		StaleTimeout:   v.GetDuration("engine.stale_timeout"),
		LockTTL:        v.GetDuration("engine.lock_ttl"),
		DryRun:         v.GetBool("engine.dry_run"),
	}
}

// Breaker holds the circuit breaker tunables.
type Breaker struct {
	FailureRatio     float64       `json:"failure_ratio" yaml:"failure_ratio"`
	TripAfter        int           `json:"trip_after" yaml:"trip_after"`
	RecoveryDelay    time.Duration `json:"recovery_delay" yaml:"recovery_delay"`
	ProbeTTL         time.Duration `json:"probe_ttl" yaml:"probe_ttl"`
	StaleOpenCeiling time.Duration `json:"stale_open_ceiling" yaml:"stale_open_ceiling"`
}

func getBreakerConfig(v *viper.Viper) *Breaker {
	v.SetDefault("breaker.failure_ratio", 0.8)
	v.SetDefault("breaker.trip_after", 3)
	v.SetDefault("breaker.recovery_delay", 5*time.Minute)
	v.SetDefault("breaker.probe_ttl", 7*time.Minute)
	v.SetDefault("breaker.stale_open_ceiling", time.Hour)
	return &Breaker{
		FailureRatio:     v.GetFloat64("breaker.failure_ratio"),
		TripAfter:        v.GetInt("breaker.trip_after"),
		RecoveryDelay:    v.GetDuration("breaker.recovery_delay"),
		ProbeTTL:         v.GetDuration("breaker.probe_ttl"),
		StaleOpenCeiling: v.GetDuration("breaker.stale_open_ceiling"),
	}
}
