package config

import (
	"time"

	"github.com/spf13/viper"
)

// Notify holds the failure notifier configuration.
type Notify struct {
	Threshold int           `json:"threshold" yaml:"threshold"`
	Cooldown  time.Duration `json:"cooldown" yaml:"cooldown"`
	PerModule bool          `json:"per_module" yaml:"per_module"`
	Sentry    *Sentry       `json:"sentry" yaml:"sentry"`
}

// Sentry sentry config struct
type Sentry struct {
	Dsn         string `json:"dsn" yaml:"dsn"`
	Environment string `json:"environment" yaml:"environment"`
}

func getNotifyConfig(v *viper.Viper) *Notify {
	v.SetDefault("notify.threshold", 10)
	v.SetDefault("notify.cooldown", time.Hour)
	return &Notify{
		Threshold: v.GetInt("notify.threshold"),
		Cooldown:  v.GetDuration("notify.cooldown"),
		PerModule: v.GetBool("notify.per_module"),
		Sentry: &Sentry{
			Dsn:         v.GetString("notify.sentry.dsn"),
			Environment: v.GetString("notify.sentry.environment"),
		},
	}
}
