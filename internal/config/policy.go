package config

import (
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// AttendancePolicy holds tenant-independent attendance thresholds. Company
// settings override the defaults where they overlap.
type AttendancePolicy struct {
	DefaultTimezone         string        `mapstructure:"defaultTimezone"`
	DefaultMaxShiftHours    int           `mapstructure:"defaultMaxShiftHours"`
	MissingBreakThreshold   time.Duration `mapstructure:"missingBreakThreshold"`
	ExcessiveHoursThreshold time.Duration `mapstructure:"excessiveHoursThreshold"`
	BackdateWindow          time.Duration `mapstructure:"backdateWindow"`
	ClockEventRate          float64       `mapstructure:"clockEventRate"`
	ClockEventBurst         int           `mapstructure:"clockEventBurst"`
}

func DefaultAttendancePolicy() AttendancePolicy {
	return AttendancePolicy{
		DefaultTimezone:         "UTC",
		DefaultMaxShiftHours:    12,
		MissingBreakThreshold:   8 * time.Hour,
		ExcessiveHoursThreshold: 12 * time.Hour,
		BackdateWindow:          7 * 24 * time.Hour,
		ClockEventRate:          0.5,
		ClockEventBurst:         10,
	}
}

type PolicyHolder struct {
	current atomic.Value // holds AttendancePolicy
}

// NewStaticPolicyHolder returns a holder that never reloads.
func NewStaticPolicyHolder(p AttendancePolicy) *PolicyHolder {
	h := &PolicyHolder{}
	h.current.Store(p)
	return h
}

// NewPolicyHolder reads attendance.yml and keeps it hot-reloaded.
func NewPolicyHolder(cfg Config, log *zap.Logger) (*PolicyHolder, error) {
	log = log.Named("config.policy")
	v := viper.New()

	if cfg.PolicyPath != "" {
		v.SetConfigFile(cfg.PolicyPath)
	} else {
		v.SetConfigName("attendance")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/fieldclock")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("FIELDCLOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultAttendancePolicy()
	v.SetDefault("attendance.defaultTimezone", defaults.DefaultTimezone)
	v.SetDefault("attendance.defaultMaxShiftHours", defaults.DefaultMaxShiftHours)
	v.SetDefault("attendance.missingBreakThreshold", defaults.MissingBreakThreshold)
	v.SetDefault("attendance.excessiveHoursThreshold", defaults.ExcessiveHoursThreshold)
	v.SetDefault("attendance.backdateWindow", defaults.BackdateWindow)
	v.SetDefault("attendance.clockEventRate", defaults.ClockEventRate)
	v.SetDefault("attendance.clockEventBurst", defaults.ClockEventBurst)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fileLoaded = false
	}

	var policy AttendancePolicy
	if err := v.UnmarshalKey("attendance", &policy); err != nil {
		return nil, err
	}
	if err := ValidateAttendancePolicy(policy); err != nil {
		return nil, err
	}

	holder := NewStaticPolicyHolder(policy)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated AttendancePolicy
		if err := v.UnmarshalKey("attendance", &updated); err != nil {
			log.Warn("policy reload failed", zap.String("file", e.Name), zap.Error(err))
			return
		}
		if err := ValidateAttendancePolicy(updated); err != nil {
			log.Warn("invalid policy ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("policy reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *PolicyHolder) Get() AttendancePolicy {
	return h.current.Load().(AttendancePolicy)
}

func ValidateAttendancePolicy(p AttendancePolicy) error {
	if _, err := time.LoadLocation(p.DefaultTimezone); err != nil {
		return errors.New("attendance.defaultTimezone must be an IANA zone")
	}
	if p.DefaultMaxShiftHours < 8 || p.DefaultMaxShiftHours > 24 {
		return errors.New("attendance.defaultMaxShiftHours must be within [8,24]")
	}
	if p.MissingBreakThreshold <= 0 || p.ExcessiveHoursThreshold <= 0 || p.BackdateWindow <= 0 {
		return errors.New("attendance thresholds must be positive")
	}
	if p.ClockEventRate <= 0 || p.ClockEventBurst <= 0 {
		return errors.New("attendance.clockEventRate and clockEventBurst must be positive")
	}
	return nil
}
