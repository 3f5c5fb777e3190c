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
//	-a string   HTTP bind address (e.g., ":8080")
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, days
//	-g int      reuse grace window, seconds
//	-o string   allowed CORS origin
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-s", "-t", "-r", "-g", "-o"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrHTTP, "a", config.EndpointAddrHTTP, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")
	fs.StringVar(&config.CORSOrigin, "o", config.CORSOrigin, "allowed CORS origin")

	accessMinutes := fs.Int("t", int(config.AccessTokenValidity.Minutes()), "access token validity (minutes)")
	refreshDays := fs.Int("r", int(config.RefreshTokenValidity.Hours()/24), "refresh token validity (days)")
	graceSeconds := fs.Int("g", int(config.ReuseGraceWindow.Seconds()), "reuse grace window (seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidity = time.Duration(*accessMinutes) * time.Minute
	config.RefreshTokenValidity = time.Duration(*refreshDays) * 24 * time.Hour
	config.ReuseGraceWindow = time.Duration(*graceSeconds) * time.Second
}
