package evaluatelenderoffers

import (
	"time"

	"mf-loan-eligibility/internal/common/config"
)

type Config struct {
	Timeout time.Duration
	// DropOverlapping removes quotes that list a holding as both eligible
	// and ineligible before ranking.
	DropOverlapping bool
}

func LoadConfig(cfg *config.Config) *Config {
	wc := config.GetWorkerConfig(cfg, TaskType)
	return &Config{
		Timeout:         config.GetDuration(wc.Timeout),
		DropOverlapping: true,
	}
}
