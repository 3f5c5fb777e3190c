package config

import (
	"flag"
	"os"
	"time"

	"github.com/akarpov87/schoolauth/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-a string    server base URL
//	-i float     idle logout fraction of the access-token window
//	-f float     proactive refresh fraction
//	-t int       request timeout, seconds
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-i", "-f", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.ServerURL, "a", config.ServerURL, "server base URL")
	fs.Float64Var(&config.IdleFraction, "i", config.IdleFraction, "idle logout fraction")
	fs.Float64Var(&config.RefreshFraction, "f", config.RefreshFraction, "proactive refresh fraction")

	timeoutSeconds := fs.Int("t", int(config.RequestTimeout.Seconds()), "request timeout (seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.RequestTimeout = time.Duration(*timeoutSeconds) * time.Second
}
