package dali

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const DefaultServerUrl = "https://dalilab-api.herokuapp.com"

// Example config file:
//
//	server_url: https://dalilab-api.herokuapp.com/
//	api_key: <key>
//	sharing_default: false
//	auto_switch_sockets: true
type Config struct {
	// required
	ServerUrl string `yaml:"server_url"`
	// used to connect without a member sign in
	ApiKey string `yaml:"api_key,omitempty"`
	// default for the location sharing preference
	SharingDefault bool `yaml:"sharing_default"`
	// channels are disconnected on `Client.Suspend` and reconnected on `Client.Resume`
	AutoSwitchSockets bool `yaml:"auto_switch_sockets"`
}

func NewConfig(serverUrl string) *Config {
	return &Config{
		ServerUrl:         strings.TrimSuffix(serverUrl, "/"),
		AutoSwitchSockets: true,
	}
}

// reads a yaml config file. `DALI_SERVER_URL` and `DALI_API_KEY` override the file values.
// An empty path reads only the environment.
func LoadConfig(path string) (*Config, error) {
	config := &Config{
		AutoSwitchSockets: true,
	}
	if path != "" {
		configBytes, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(configBytes, config); err != nil {
			return nil, fmt.Errorf("Could not parse config %s: %w", path, err)
		}
	}
	if serverUrl := os.Getenv("DALI_SERVER_URL"); serverUrl != "" {
		config.ServerUrl = serverUrl
	}
	if apiKey := os.Getenv("DALI_API_KEY"); apiKey != "" {
		config.ApiKey = apiKey
	}
	config.ServerUrl = strings.TrimSuffix(config.ServerUrl, "/")
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (self *Config) Validate() error {
	if self.ServerUrl == "" {
		return ErrMissingServerUrl
	}
	if !strings.HasPrefix(self.ServerUrl, "http://") && !strings.HasPrefix(self.ServerUrl, "https://") {
		return fmt.Errorf("Server url must be http or https: %s", self.ServerUrl)
	}
	return nil
}
