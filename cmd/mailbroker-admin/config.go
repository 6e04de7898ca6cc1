package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	defaultServer  = "http://localhost:8080"
	defaultTimeout = 30 * time.Second
)

// options resolves --server, --api-key and --timeout from flags, then
// MAILBROKER_* environment variables, then defaults.
type options struct {
	v *viper.Viper
}

func newOptions() *options {
	v := viper.New()
	v.SetEnvPrefix("mailbroker")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	v.SetDefault("server", defaultServer)
	v.SetDefault("timeout", defaultTimeout)
	return &options{v: v}
}

func (o *options) bindFlags(root *cobra.Command) {
	flags := root.PersistentFlags()
	flags.String("server", defaultServer, "server base URL (env MAILBROKER_SERVER)")
	flags.String("api-key", "", "admin API key (env MAILBROKER_API_KEY)")
	flags.Duration("timeout", defaultTimeout, "request timeout")

	_ = o.v.BindPFlag("server", flags.Lookup("server"))
	_ = o.v.BindPFlag("api-key", flags.Lookup("api-key"))
	_ = o.v.BindPFlag("timeout", flags.Lookup("timeout"))
}

func (o *options) client() (*adminClient, error) {
	apiKey := o.v.GetString("api-key")
	if apiKey == "" {
		return nil, fmt.Errorf("admin API key is required (--api-key or MAILBROKER_API_KEY)")
	}
	return newAdminClient(o.v.GetString("server"), apiKey, o.v.GetDuration("timeout")), nil
}
