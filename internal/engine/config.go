package engine

import (
	"time"

	"github.com/EternisAI/mailbroker/internal/provider"
)

const (
	DefaultPollInterval     = 10 * time.Second
	DefaultNoticeEvery      = 6
	DefaultMaxContentLength = 1000
)

type Config struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// NoticeEvery sends a progress notice after every N failed polls.
	NoticeEvery int `mapstructure:"notice_every"`
	// MaxAttempts and MaxDuration bound a loop; zero means poll until
	// delivery or cancellation.
	MaxAttempts      int           `mapstructure:"max_attempts"`
	MaxDuration      time.Duration `mapstructure:"max_duration"`
	Folder           string        `mapstructure:"folder"`
	MaxContentLength int           `mapstructure:"max_content_length"`
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.NoticeEvery <= 0 {
		c.NoticeEvery = DefaultNoticeEvery
	}
	if c.Folder == "" {
		c.Folder = provider.InboxFolder
	}
	if c.MaxContentLength <= 0 {
		c.MaxContentLength = DefaultMaxContentLength
	}
	return c
}
