package retrain

import (
	"errors"
	"fmt"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
)

// ErrRetrainFailed marks a retrain cycle that left the previous policy installed.
// The underlying cause is wrapped alongside it.
var ErrRetrainFailed = errors.New("retrain failed")

// #region config

// Config controls when retraining fires and how much history it sees.
type Config struct {
	Interval    int     `yaml:"interval" json:"interval" validate:"gte=1"`
	Window      int     `yaml:"window" json:"window" validate:"gte=0"` // 0 means Interval
	Async       bool    `yaml:"async" json:"async"`
	MinAccuracy float64 `yaml:"min_accuracy" json:"min_accuracy" validate:"gte=0,lte=1"`
}

// DefaultConfig retrains every 10 decisions on the 10 newest records
// (Window = Interval). config.Default widens the window for the built-in game.
func DefaultConfig() Config {
	return Config{
		Interval:    10,
		Window:      10,
		MinAccuracy: 0,
	}
}

func (c Config) normalize() (Config, error) {
	if c.Interval <= 0 {
		return c, fmt.Errorf("retrain interval must be positive, got %d", c.Interval)
	}
	if c.Window == 0 {
		c.Window = c.Interval
	}
	if c.Window < c.Interval {
		return c, fmt.Errorf("retrain window %d smaller than interval %d", c.Window, c.Interval)
	}
	if c.MinAccuracy < 0 || c.MinAccuracy > 1 {
		return c, fmt.Errorf("min accuracy %.3f outside [0,1]", c.MinAccuracy)
	}
	return c, nil
}

// #endregion config

// #region outcome

// Status summarises how a cycle ended.
type Status string

const (
	StatusPublished Status = "published"
	StatusRejected  Status = "rejected" // candidate fitted but vetoed by the gate
	StatusFailed    Status = "failed"
)

// Outcome describes one retrain cycle.
type Outcome struct {
	Cycle     uint64 // scheduled cycles and manual runs are numbered separately
	Manual    bool   // run on request, outside the interval schedule
	Count     uint64 // interaction count when the cycle ran
	Status    Status
	Samples   int
	Model     *policy.Model // candidate; published only when Status is StatusPublished
	Gate      Decision
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Published reports whether the cycle replaced the policy.
func (o Outcome) Published() bool { return o.Status == StatusPublished }

// #endregion outcome
