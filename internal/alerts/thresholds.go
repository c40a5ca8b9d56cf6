package alerts

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"

	"fleetguard/internal/models"
)

var ErrInvalidThresholds = errors.New("invalid thresholds")

var validate = validator.New()

// ThresholdPolicy holds the active threshold configuration.
type ThresholdPolicy struct {
	mu  sync.RWMutex
	cfg models.ThresholdConfig
}

func NewThresholdPolicy(initial models.ThresholdConfig) (*ThresholdPolicy, error) {
	if err := Validate(initial); err != nil {
		return nil, err
	}
	return &ThresholdPolicy{cfg: initial}, nil
}

func (p *ThresholdPolicy) Current() models.ThresholdConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg
}

func (p *ThresholdPolicy) Replace(cfg models.ThresholdConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
	return nil
}

// Apply merges patch into the current config. Nothing changes when the merged
// result is invalid.
func (p *ThresholdPolicy) Apply(patch models.ThresholdPatch) (models.ThresholdConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	next := Merge(p.cfg, patch)
	if err := Validate(next); err != nil {
		return p.cfg, err
	}
	p.cfg = next
	return next, nil
}

func Merge(cfg models.ThresholdConfig, patch models.ThresholdPatch) models.ThresholdConfig {
	if patch.CPUWarning != nil {
		cfg.CPUWarning = *patch.CPUWarning
	}
	if patch.CPUCritical != nil {
		cfg.CPUCritical = *patch.CPUCritical
	}
	if patch.MemoryWarning != nil {
		cfg.MemoryWarning = *patch.MemoryWarning
	}
	if patch.MemoryCritical != nil {
		cfg.MemoryCritical = *patch.MemoryCritical
	}
	if patch.UnhealthyWarning != nil {
		cfg.UnhealthyWarning = *patch.UnhealthyWarning
	}
	if patch.UnhealthyCritical != nil {
		cfg.UnhealthyCritical = *patch.UnhealthyCritical
	}
	return cfg
}

func Validate(cfg models.ThresholdConfig) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidThresholds, err)
	}
	return nil
}
