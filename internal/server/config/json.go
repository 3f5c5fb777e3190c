package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/akarpov87/schoolauth/internal/flagx"
)

// jsonConfig mirrors Config for JSON unmarshalling. Token lifetimes are
// integers: minutes for the access token, days for the refresh token,
// seconds for the grace window.
type jsonConfig struct {
	EndpointAddrHTTP        string `json:"endpoint_addr_http"`
	DatabaseDSN             string `json:"database_dsn"`
	SecretKey               string `json:"secret_key"`
	Issuer                  string `json:"issuer"`
	Audience                string `json:"audience"`
	AccessTokenMinutes      int    `json:"access_token_minutes"`
	RefreshTokenDays        int    `json:"refresh_token_days"`
	ReuseGraceWindowSeconds int    `json:"reuse_grace_window_seconds"`
	CORSOrigin              string `json:"cors_origin"`
}

// parseJSON overlays values from the JSON file named by -c/-config, if any.
// Zero-valued fields in the file leave the current config untouched.
func parseJSON(config *Config) {
	path := flagx.JSONConfigPath()
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &jsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.EndpointAddrHTTP != "" {
		config.EndpointAddrHTTP = c.EndpointAddrHTTP
	}
	if c.DatabaseDSN != "" {
		config.DatabaseDSN = c.DatabaseDSN
	}
	if c.SecretKey != "" {
		config.SecretKey = c.SecretKey
	}
	if c.Issuer != "" {
		config.Issuer = c.Issuer
	}
	if c.Audience != "" {
		config.Audience = c.Audience
	}
	if c.AccessTokenMinutes > 0 {
		config.AccessTokenValidity = time.Duration(c.AccessTokenMinutes) * time.Minute
	}
	if c.RefreshTokenDays > 0 {
		config.RefreshTokenValidity = time.Duration(c.RefreshTokenDays) * 24 * time.Hour
	}
	if c.ReuseGraceWindowSeconds > 0 {
		config.ReuseGraceWindow = time.Duration(c.ReuseGraceWindowSeconds) * time.Second
	}
	if c.CORSOrigin != "" {
		config.CORSOrigin = c.CORSOrigin
	}
}
