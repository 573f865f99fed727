package main

import (
	"strings"

	"github.com/mossy-p/callrelay/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "callclient",
	Short: "Headless voice/video call client for the call relay",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if viper.GetString("identity") == "" {
			return errMissingIdentity
		}
		return nil
	},
	SilenceUsage: true,
}

func init() {
	// allow env vars to override flags, e.g. CALLCLIENT_IDENTITY
	viper.SetEnvPrefix("callclient")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	defaults := config.DefaultCall()
	flags := rootCmd.PersistentFlags()
	flags.String("relay", "http://localhost:8080", "Relay server origin")
	flags.String("identity", "", "Identity (wallet address) to register as")
	flags.String("token", "", "Identity token; fetched from the relay when empty and --login is set")
	flags.Bool("login", false, "Obtain a token from the relay's login endpoint")
	flags.StringSlice("ice-server", defaults.ICEServers, "STUN server URL, may be repeated")
	flags.Duration("ring-timeout", defaults.RingTimeout, "How long a call rings before timing out")
	flags.Duration("media-timeout", defaults.MediaTimeout, "Upper bound for acquiring local media")
	flags.String("log-level", "info", "Log level")

	for _, name := range []string{"relay", "identity", "token", "login", "ice-server", "ring-timeout", "media-timeout", "log-level"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func callTimings() config.CallConfig {
	timings := config.DefaultCall()
	timings.RingTimeout = viper.GetDuration("ring-timeout")
	timings.MediaTimeout = viper.GetDuration("media-timeout")
	timings.ICEServers = viper.GetStringSlice("ice-server")
	return timings
}
