package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/akarpov87/schoolauth/internal/flagx"
)

type jsonConfig struct {
	ServerURL             string  `json:"server_url"`
	IdleFraction          float64 `json:"idle_fraction"`
	RefreshFraction       float64 `json:"refresh_fraction"`
	RequestTimeoutSeconds int     `json:"request_timeout_seconds"`
}

// parseJSON overlays values from the JSON file named by -c/-config, if any.
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

	if c.ServerURL != "" {
		config.ServerURL = c.ServerURL
	}
	if c.IdleFraction != 0 {
		config.IdleFraction = c.IdleFraction
	}
	if c.RefreshFraction != 0 {
		config.RefreshFraction = c.RefreshFraction
	}
	if c.RequestTimeoutSeconds > 0 {
		config.RequestTimeout = time.Duration(c.RequestTimeoutSeconds) * time.Second
	}
}
