package config

import (
	"time"
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationResult holds the result of config validation.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Validate checks the config for invalid values.
func (c *Config) Validate() ValidationResult {
	var errors []ValidationError

	errors = append(errors, validateRules(&c.Rules)...)
	errors = append(errors, validateIntervals(&c.Intervals)...)
	errors = append(errors, validateStore(&c.Store)...)
	errors = append(errors, validateHealthServer(&c.HealthServer)...)

	return ValidationResult{
		Valid:  len(errors) == 0,
		Errors: errors,
	}
}

func validateRules(r *RulesConfig) []ValidationError {
	var errors []ValidationError

	if r.MinTradeUsd < 0 {
		errors = append(errors, ValidationError{
			Field:   "rules.min_trade_usd",
			Message: "must be non-negative",
		})
	}
	if r.ChannelAnnounceUsd < 0 {
		errors = append(errors, ValidationError{
			Field:   "rules.channel_announce_usd",
			Message: "must be non-negative",
		})
	}
	if r.StakeDelta15mUsd <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rules.stake_delta_15m_usd",
			Message: "must be positive",
		})
	}
	if r.StakeCum30mUsd <= 0 {
		errors = append(errors, ValidationError{
			Field:   "rules.stake_cum_30m_usd",
			Message: "must be positive",
		})
	}
	if r.WinsLossesThreshold < 1 {
		errors = append(errors, ValidationError{
			Field:   "rules.wins_losses_threshold",
			Message: "must be at least 1",
		})
	}
	if r.WinsLossesLookbackHours < 1 {
		errors = append(errors, ValidationError{
			Field:   "rules.wins_losses_lookback_hours",
			Message: "must be at least 1",
		})
	}

	return errors
}

func validateIntervals(i *IntervalsConfig) []ValidationError {
	var errors []ValidationError

	if i.TradePoll < 1*time.Second {
		errors = append(errors, ValidationError{
			Field:   "intervals.trade_poll",
			Message: "must be at least 1 second",
		})
	}
	if i.WinsCheck < 10*time.Second {
		errors = append(errors, ValidationError{
			Field:   "intervals.wins_check",
			Message: "must be at least 10 seconds",
		})
	}

	return errors
}

func validateStore(s *StoreConfig) []ValidationError {
	var errors []ValidationError

	switch s.Backend {
	case "file":
		if s.FilePath == "" {
			errors = append(errors, ValidationError{
				Field:   "store.file_path",
				Message: "required for the file backend",
			})
		}
	case "redis":
		if s.RedisURL == "" {
			errors = append(errors, ValidationError{
				Field:   "store.redis_url",
				Message: "required for the redis backend",
			})
		}
	default:
		errors = append(errors, ValidationError{
			Field:   "store.backend",
			Message: `must be "file" or "redis"`,
		})
	}

	return errors
}

func validateHealthServer(h *HealthServerConfig) []ValidationError {
	var errors []ValidationError

	if h.Enabled && (h.Port < 1 || h.Port > 65535) {
		errors = append(errors, ValidationError{
			Field:   "health_server.port",
			Message: "must be a valid port number",
		})
	}

	return errors
}
