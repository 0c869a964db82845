package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeEarnFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "earn.yml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestNewEarnRulesHolder_LoadsFile(t *testing.T) {
	path := writeEarnFile(t, `
earn:
  rules:
    - event_type: visit
      points: 20
      reason: earn_visit
    - event_type: review
      points: 15
      reason: earn_review
`)

	holder, err := NewEarnRulesHolder(Config{EarnConfigPath: path}, zap.NewNop())
	require.NoError(t, err)

	rules := holder.Get().Rules
	require.Len(t, rules, 2)
	assert.Equal(t, "visit", rules[0].EventType)
	assert.Equal(t, int64(20), rules[0].Points)
	assert.Equal(t, "earn_review", rules[1].Reason)
}

func TestNewEarnRulesHolder_RejectsInvalidFile(t *testing.T) {
	path := writeEarnFile(t, `
earn:
  rules:
    - event_type: visit
      points: 0
      reason: earn_visit
`)

	_, err := NewEarnRulesHolder(Config{EarnConfigPath: path}, zap.NewNop())
	assert.Error(t, err)
}

func TestEarnRulesHolder_NilFallsBackToDefaults(t *testing.T) {
	var holder *EarnRulesHolder
	assert.Equal(t, DefaultEarnConfig(), holder.Get())
}

func TestValidateEarnConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     EarnConfig
		wantErr bool
	}{
		{name: "defaults", cfg: DefaultEarnConfig()},
		{name: "empty", cfg: EarnConfig{}, wantErr: true},
		{
			name: "duplicate event type",
			cfg: EarnConfig{Rules: []EarnRule{
				{EventType: "visit", Points: 1, Reason: "a"},
				{EventType: "visit", Points: 2, Reason: "b"},
			}},
			wantErr: true,
		},
		{
			name:    "zero points",
			cfg:     EarnConfig{Rules: []EarnRule{{EventType: "visit", Points: 0, Reason: "a"}}},
			wantErr: true,
		},
		{
			name:    "negative points",
			cfg:     EarnConfig{Rules: []EarnRule{{EventType: "checkin", Points: -5, Reason: "a"}}},
			wantErr: true,
		},
		{
			name:    "missing reason",
			cfg:     EarnConfig{Rules: []EarnRule{{EventType: "visit", Points: 1}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateEarnConfig(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}
