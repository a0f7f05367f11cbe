package classify

import (
	"errors"
	"sort"
)

// ErrNoStrategy is returned when no enabled strategy is registered.
var ErrNoStrategy = errors.New("no enabled classification strategy")

// StrategyConfig enables a strategy and orders it against the others.
// Lower preference wins.
type StrategyConfig struct {
	Enabled    bool `yaml:"enabled"`
	Preference int  `yaml:"preference"`
}

type entry struct {
	strategy Strategy
	config   StrategyConfig
}

// Selector picks the active strategy from the registered set.
type Selector struct {
	entries []entry
}

// NewSelector creates an empty Selector.
func NewSelector() *Selector {
	return &Selector{}
}

// Register adds a strategy with its configuration.
func (s *Selector) Register(st Strategy, cfg StrategyConfig) {
	s.entries = append(s.entries, entry{strategy: st, config: cfg})
}

// Pick returns the enabled strategy with the lowest preference value.
// Registration order breaks ties.
func (s *Selector) Pick() (Strategy, error) {
	enabled := make([]entry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.config.Enabled {
			enabled = append(enabled, e)
		}
	}
	if len(enabled) == 0 {
		return nil, ErrNoStrategy
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].config.Preference < enabled[j].config.Preference
	})
	return enabled[0].strategy, nil
}
