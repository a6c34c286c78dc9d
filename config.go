package llmstream

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed config/defaults.yaml
var defaultOptionsYAML []byte

// Options holds the tunables of the streaming subsystem. Defaults are
// embedded at build time; deployments can override them with a YAML file via
// LoadOptionsFromFile.
type Options struct {
	// ChannelBuffer is the buffer size of fragment channels created by
	// sources and players.
	ChannelBuffer int

	// EstimateCharsPerToken is the divisor used when deriving a usage
	// estimate from content length (no vendor usage reported).
	EstimateCharsPerToken int

	// ReplayDelay is the artificial delay between replayed fragments.
	ReplayDelay time.Duration

	// WaiterPoll is the interval at which WaitForCompletion re-checks the
	// store's streaming flag.
	WaiterPoll time.Duration

	// WaiterGrace is the idle grace period after the streaming flag clears,
	// allowing in-flight finalize events to land.
	WaiterGrace time.Duration
}

// optionsFile is the YAML file shape.
type optionsFile struct {
	Version string `yaml:"version"`
	Stream  struct {
		ChannelBuffer         int `yaml:"channel_buffer"`
		EstimateCharsPerToken int `yaml:"estimate_chars_per_token"`
	} `yaml:"stream"`
	Replay struct {
		DelayMS int `yaml:"delay_ms"`
	} `yaml:"replay"`
	Waiter struct {
		PollMS  int `yaml:"poll_ms"`
		GraceMS int `yaml:"grace_ms"`
	} `yaml:"waiter"`
}

func (f *optionsFile) toOptions() Options {
	return Options{
		ChannelBuffer:         f.Stream.ChannelBuffer,
		EstimateCharsPerToken: f.Stream.EstimateCharsPerToken,
		ReplayDelay:           time.Duration(f.Replay.DelayMS) * time.Millisecond,
		WaiterPoll:            time.Duration(f.Waiter.PollMS) * time.Millisecond,
		WaiterGrace:           time.Duration(f.Waiter.GraceMS) * time.Millisecond,
	}
}

// DefaultOptions returns the embedded defaults. The embedded YAML is part of
// the build; a parse failure here is a programming error and panics at first
// use.
func DefaultOptions() Options {
	var f optionsFile
	if err := yaml.Unmarshal(defaultOptionsYAML, &f); err != nil {
		panic(fmt.Sprintf("llmstream: embedded defaults are invalid: %v", err))
	}
	return f.toOptions()
}

// LoadOptionsFromFile reads options from a YAML file, filling unset fields
// from the embedded defaults.
func LoadOptionsFromFile(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("read options file: %w", err)
	}
	var f optionsFile
	if err := yaml.Unmarshal(defaultOptionsYAML, &f); err != nil {
		return Options{}, fmt.Errorf("parse embedded defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Options{}, fmt.Errorf("parse options file %s: %w", path, err)
	}
	return f.toOptions(), nil
}
