package poll

import (
	"fmt"
	"time"
)

const (
	DefaultInterval     = 15 * time.Minute
	DefaultMargin       = time.Minute
	DefaultTestLookback = 365 * 24 * time.Hour
	DefaultTestLimit    = 1
)

// Window sizes the provider query of a poll. The lookback is the polling
// interval plus a safety margin so items delayed by clock or API skew are
// still seen; the cursor filters the overlap.
type Window struct {
	Interval     time.Duration `yaml:"interval" default:"15m"`
	Margin       time.Duration `yaml:"margin" default:"1m"`
	TestLookback time.Duration `yaml:"test_lookback" default:"8760h"`
	TestLimit    int           `yaml:"test_limit" default:"1"`
}

func DefaultWindow() Window {
	return Window{
		Interval:     DefaultInterval,
		Margin:       DefaultMargin,
		TestLookback: DefaultTestLookback,
		TestLimit:    DefaultTestLimit,
	}
}

func (w Window) Lookback() time.Duration {
	return w.Interval + w.Margin
}

func (w Window) Validate() error {
	if w.Interval <= 0 {
		return fmt.Errorf("poll window: interval must be positive")
	}
	if w.Margin <= 0 {
		return fmt.Errorf("poll window: margin must be positive so the lookback exceeds the interval")
	}
	if w.TestLookback < w.Lookback() {
		return fmt.Errorf("poll window: test lookback %s is shorter than lookback %s", w.TestLookback, w.Lookback())
	}
	if w.TestLimit < 0 {
		return fmt.Errorf("poll window: test limit must not be negative")
	}
	return nil
}
