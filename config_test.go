package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validTestConfig() *Config {
	return &Config{
		Token:             "token",
		GuildID:           "123456789012345678",
		RoundDurationSecs: RoundDurationDefault,
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:   "Valid config",
			mutate: func(c *Config) {},
		},
		{
			name:    "Missing token",
			mutate:  func(c *Config) { c.Token = "" },
			wantErr: true,
		},
		{
			name:   "Empty guild ID allowed",
			mutate: func(c *Config) { c.GuildID = "" },
		},
		{
			name:    "Guild ID too short",
			mutate:  func(c *Config) { c.GuildID = "12345" },
			wantErr: true,
		},
		{
			name:   "Duration at lower bound",
			mutate: func(c *Config) { c.RoundDurationSecs = RoundDurationMin },
		},
		{
			name:   "Duration at upper bound",
			mutate: func(c *Config) { c.RoundDurationSecs = RoundDurationMax },
		},
		{
			name:    "Duration below bound",
			mutate:  func(c *Config) { c.RoundDurationSecs = RoundDurationMin - 1 },
			wantErr: true,
		},
		{
			name:    "Duration above bound",
			mutate:  func(c *Config) { c.RoundDurationSecs = RoundDurationMax + 1 },
			wantErr: true,
		},
		{
			name:    "Missing cookies file",
			mutate:  func(c *Config) { c.YoutubeCookiesFile = "/does/not/exist.txt" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validTestConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestQuestionAndDurationBounds(t *testing.T) {
	assert.Less(t, RoundDurationMin, RoundDurationMax)
	assert.GreaterOrEqual(t, RoundDurationDefault, RoundDurationMin)
	assert.LessOrEqual(t, RoundDurationDefault, RoundDurationMax)
	assert.Less(t, QuestionCountMin, QuestionCountMax)
}
