package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateBudget(); err != nil {
		return err
	}
	if err := c.validateReview(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePipeline() error {
	switch c.Pipeline.Variant {
	case "full", "lean":
	default:
		return fmt.Errorf("pipeline.variant must be \"full\" or \"lean\", got %q", c.Pipeline.Variant)
	}
	if c.Pipeline.StageTimeout <= 0 {
		return errors.New("pipeline.stage_timeout must be positive")
	}
	if c.Pipeline.RetryLimit < 0 {
		return errors.New("pipeline.retry_limit must not be negative")
	}
	if c.Pipeline.StuckThresholdMinutes <= 0 {
		return errors.New("pipeline.stuck_threshold_minutes must be positive")
	}
	if c.Pipeline.KillGraceSeconds <= 0 {
		return errors.New("pipeline.kill_grace_seconds must be positive")
	}
	return nil
}

func (c *Config) validateBudget() error {
	if c.Budget.PeriodLimit <= 0 {
		return errors.New("budget.period_limit must be positive")
	}
	if c.Budget.SafeFraction <= 0 || c.Budget.SafeFraction >= 1 {
		return errors.New("budget.safe_fraction must be between 0 and 1 exclusive")
	}
	if c.Budget.CallsPerKeyword <= 0 {
		return errors.New("budget.calls_per_keyword must be positive")
	}
	if c.Budget.ResultsPerCall <= 0 {
		return errors.New("budget.results_per_call must be positive")
	}
	return nil
}

func (c *Config) validateReview() error {
	if c.Review.ApproveReward < 0 || c.Review.ApproveReward >= 1 {
		return errors.New("review.approve_reward must be in [0, 1)")
	}
	if c.Review.RejectPenalty <= 0 || c.Review.RejectPenalty >= 1 {
		return errors.New("review.reject_penalty must be between 0 and 1 exclusive")
	}
	if c.Review.TrueRejectPenalty <= 0 || c.Review.TrueRejectPenalty >= 1 {
		return errors.New("review.true_reject_penalty must be between 0 and 1 exclusive")
	}
	if c.Review.TrueRejectPenalty <= c.Review.RejectPenalty {
		return errors.New("review.true_reject_penalty must be strictly greater than review.reject_penalty")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	return nil
}
