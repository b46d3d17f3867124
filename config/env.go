// Package config loads engine, bidder and briefing settings from the
// environment under the TASKMESH namespace.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/hupe1980/taskmesh/bidder"
	"github.com/hupe1980/taskmesh/briefing"
	"github.com/hupe1980/taskmesh/engine"
	"github.com/hupe1980/taskmesh/logging"
)

type BaseEnv struct {
	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`
	// MemoryDir enables file-backed agent memory when set.
	MemoryDir string `envconfig:"MEMORY_DIR" default:""`
}

type EngineEnv struct {
	DedupWindow            time.Duration `envconfig:"DEDUP_WINDOW" default:"5s"`
	MaxConcurrentPerAgent  int64         `envconfig:"MAX_CONCURRENT_PER_AGENT" default:"4"`
	AdmissionTimeout       time.Duration `envconfig:"ADMISSION_TIMEOUT" default:"2s"`
	GlobalExecutionTimeout time.Duration `envconfig:"GLOBAL_EXECUTION_TIMEOUT" default:"30s"`
	MaxSubtaskDepth        int           `envconfig:"MAX_SUBTASK_DEPTH" default:"2"`
	ConversationTTL        time.Duration `envconfig:"CONVERSATION_TTL" default:"10m"`
	ConversationMaxEntries int           `envconfig:"CONVERSATION_MAX_ENTRIES" default:"1000"`
}

type BidderEnv struct {
	AutoWinThreshold float64 `envconfig:"BIDDER_AUTO_WIN_THRESHOLD" default:"0.90"`
	AutoMargin       float64 `envconfig:"BIDDER_AUTO_MARGIN" default:"0.15"`
	MinRoutable      float64 `envconfig:"BIDDER_MIN_ROUTABLE" default:"0.2"`
	DisableLLM       bool    `envconfig:"BIDDER_DISABLE_LLM" default:"false"`
}

type BriefingEnv struct {
	AgentTimeout time.Duration `envconfig:"BRIEFING_AGENT_TIMEOUT" default:"3s"`
	EmptyLine    string        `envconfig:"BRIEFING_EMPTY_LINE" default:"Nothing to report right now."`
}

type Env struct {
	BaseEnv
	EngineEnv
	BidderEnv
	BriefingEnv
}

const namespace = "TASKMESH"

// LoadEnv reads the TASKMESH_* environment variables.
func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

// LogLevelValue maps the configured level string to a logging level.
func (e *BaseEnv) LogLevelValue() logging.LogLevel {
	switch e.LogLevel {
	case "debug":
		return logging.LogLevelDebug
	case "warn":
		return logging.LogLevelWarn
	case "error":
		return logging.LogLevelError
	default:
		return logging.LogLevelInfo
	}
}

// EngineConfig converts the environment into an engine Config.
func (e *EngineEnv) EngineConfig() engine.Config {
	return engine.Config{
		DedupWindow:            e.DedupWindow,
		MaxConcurrentPerAgent:  e.MaxConcurrentPerAgent,
		AdmissionTimeout:       e.AdmissionTimeout,
		GlobalExecutionTimeout: e.GlobalExecutionTimeout,
		MaxSubtaskDepth:        e.MaxSubtaskDepth,
	}
}

// BidderOptions applies the environment to bidder options.
func (e *BidderEnv) BidderOptions() func(o *bidder.Options) {
	return func(o *bidder.Options) {
		o.AutoWinThreshold = e.AutoWinThreshold
		o.AutoMargin = e.AutoMargin
		o.MinRoutable = e.MinRoutable
		o.DisableLLM = e.DisableLLM
	}
}

// BriefingOptions applies the environment to briefing options.
func (e *BriefingEnv) BriefingOptions() func(o *briefing.Options) {
	return func(o *briefing.Options) {
		o.AgentTimeout = e.AgentTimeout
		o.EmptyLine = e.EmptyLine
	}
}
