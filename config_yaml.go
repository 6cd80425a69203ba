package auditrag

import "gopkg.in/yaml.v3"

// loadYAMLOverlay unmarshals a profile file on top of an existing
// Config, letting the file override only the fields it sets.
func loadYAMLOverlay(data []byte, cfg *Config) error {
	return yaml.Unmarshal(data, cfg)
}
