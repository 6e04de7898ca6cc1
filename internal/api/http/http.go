package http

type Config struct {
	Port        uint   `mapstructure:"port"`
	AdminAPIKey string `mapstructure:"admin_api_key"`
	// WebhookSecret guards the events endpoint the chat front end calls.
	WebhookSecret string `mapstructure:"webhook_secret"`
}
