package util

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v3"
)

const Name = "tusker"
const ConfigFileName = "config.yaml"

//go:embed config_default.yaml
var embeddedConfig []byte

type AppConfig struct {
	Conf struct {
		Host     string `yaml:"host" env:"TUSKER_HOST"`
		HttpPort int    `yaml:"httpPort" env:"TUSKER_HTTPPORT"`
		// Domain is the public federation domain this server is reachable
		// under; actor and activity URIs are minted beneath it.
		Domain string `yaml:"domain" env:"TUSKER_DOMAIN"`
		DbFile string `yaml:"dbFile" env:"TUSKER_DBFILE"`
		// AutoTls obtains a certificate for Domain via ACME and serves HTTPS
		// directly instead of plain HTTP behind a proxy.
		AutoTls bool `yaml:"autoTls" env:"TUSKER_AUTOTLS"`
		// SkipVerify disables inbound HTTP signature verification. Development
		// only; startup logs a warning whenever it is set.
		SkipVerify bool `yaml:"skipVerify" env:"TUSKER_SKIP_VERIFY"`
		// Delivery fan-out bounds.
		MaxInflight int `yaml:"maxInflight" env:"TUSKER_MAX_INFLIGHT"`
		MaxAttempts int `yaml:"maxAttempts" env:"TUSKER_MAX_ATTEMPTS"`
	} `yaml:"conf"`
}

// ReadConf loads the YAML config (local dir first, then the user config dir,
// falling back to embedded defaults) and applies environment overrides on top.
func ReadConf() (*AppConfig, error) {
	c := &AppConfig{}

	configPath := ResolveFilePath(ConfigFileName)

	buf, err := os.ReadFile(configPath)
	if err != nil {
		log.Info("config file not found, using embedded defaults", "path", configPath)
		buf = embeddedConfig

		if configDir, dirErr := GetConfigDir(); dirErr == nil {
			userConfigPath := configDir + "/" + ConfigFileName
			if writeErr := os.WriteFile(userConfigPath, embeddedConfig, 0644); writeErr != nil {
				log.Warn("could not write default config", "path", userConfigPath, "err", writeErr)
			} else {
				log.Info("created default config file", "path", userConfigPath)
			}
		}
	}

	if err = yaml.Unmarshal(buf, c); err != nil {
		return nil, fmt.Errorf("in config file: %w", err)
	}

	if err = env.Parse(c); err != nil {
		return nil, fmt.Errorf("in environment: %w", err)
	}

	if c.Conf.MaxInflight <= 0 {
		c.Conf.MaxInflight = 8
	}
	if c.Conf.MaxAttempts <= 0 {
		c.Conf.MaxAttempts = 4
	}

	return c, nil
}
