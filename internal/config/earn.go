package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// EarnRule awards a fixed number of points for one event type.
type EarnRule struct {
	EventType string `mapstructure:"event_type" yaml:"event_type"`
	Points    int64  `mapstructure:"points" yaml:"points"`
	Reason    string `mapstructure:"reason" yaml:"reason"`
}

// EarnConfig is the deployment-level earn rule table.
type EarnConfig struct {
	Rules []EarnRule `mapstructure:"rules" yaml:"rules"`
}

func DefaultEarnConfig() EarnConfig {
	return EarnConfig{
		Rules: []EarnRule{
			{EventType: "visit", Points: 10, Reason: "earn_visit"},
			{EventType: "checkin", Points: 5, Reason: "earn_checkin"},
		},
	}
}

// EarnRulesHolder serves the current earn rules and swaps them when earn.yml changes.
type EarnRulesHolder struct {
	current atomic.Value // holds EarnConfig
}

// NewStaticEarnRulesHolder returns a holder that never reloads.
func NewStaticEarnRulesHolder(cfg EarnConfig) *EarnRulesHolder {
	holder := &EarnRulesHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEarnRulesHolder(appCfg Config, log *zap.Logger) (*EarnRulesHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("config.earn")

	v := viper.New()
	if path := strings.TrimSpace(appCfg.EarnConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("earn")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/loop")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("LOOP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		fromFile = false
	}

	cfg := DefaultEarnConfig()
	if fromFile {
		loaded, err := unmarshalEarnConfig(v)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	holder := NewStaticEarnRulesHolder(cfg)
	if !fromFile {
		log.Info("earn config file not found, using defaults")
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := unmarshalEarnConfig(v)
		if err != nil {
			log.Warn("invalid earn config ignored", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("earn config reloaded", zap.String("file", e.Name), zap.Int("rules", len(updated.Rules)))
	})

	return holder, nil
}

func (h *EarnRulesHolder) Get() EarnConfig {
	if h == nil {
		return DefaultEarnConfig()
	}
	cfg, ok := h.current.Load().(EarnConfig)
	if !ok {
		return DefaultEarnConfig()
	}
	return cfg
}

func unmarshalEarnConfig(v *viper.Viper) (EarnConfig, error) {
	var cfg EarnConfig
	if err := v.UnmarshalKey("earn", &cfg); err != nil {
		return EarnConfig{}, err
	}
	if err := ValidateEarnConfig(cfg); err != nil {
		return EarnConfig{}, err
	}
	return cfg, nil
}

func ValidateEarnConfig(cfg EarnConfig) error {
	if len(cfg.Rules) == 0 {
		return errors.New("earn.rules cannot be empty")
	}
	seen := make(map[string]struct{}, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		eventType := strings.TrimSpace(rule.EventType)
		if eventType == "" {
			return fmt.Errorf("earn.rules[%d].event_type is required", i)
		}
		if _, ok := seen[eventType]; ok {
			return fmt.Errorf("earn.rules[%d] duplicates event_type %q", i, eventType)
		}
		seen[eventType] = struct{}{}
		if rule.Points <= 0 {
			return fmt.Errorf("earn.rules[%d].points must be positive", i)
		}
		if strings.TrimSpace(rule.Reason) == "" {
			return fmt.Errorf("earn.rules[%d].reason is required", i)
		}
	}
	return nil
}
