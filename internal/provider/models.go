package provider

import (
	"encoding/json"
	"time"
)

type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	ClientKey string        `mapstructure:"client_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// Stock is the number of accounts the provider can sell for one mail type.
type Stock struct {
	Type      string `json:"type"`
	Available int    `json:"stock"`
}

// Handle is a decoded resource handle: the mailbox address followed by the
// credential tuple needed to read it.
type Handle struct {
	Address      string
	Password     string
	RefreshToken string
	ClientID     string
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type messagePayload struct {
	From    string `json:"from"`
	Subject string `json:"subject"`
	Content string `json:"content"`
	HTML    string `json:"html"`
}
