package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// FromEnv builds the initial document from the environment. Every key
// of the document is bound so that e.g. RABBITMQ_HOST overrides
// rabbitmq.host and FILES_ROTATION_TRIGGER overrides
// files.rotation.trigger; anything unset keeps its default.
func FromEnv() (*Server, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults, err := flatten(Default())
	if err != nil {
		return nil, err
	}
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	s := Default()
	if err := v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("read environment config: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("environment config: %w", err)
	}
	return s, nil
}

// flatten turns the document into dotted viper keys. Registering every
// key as a default is what makes AutomaticEnv see the corresponding
// environment variables.
func flatten(s *Server) (map[string]interface{}, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("flatten config: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("flatten config: %w", err)
	}

	flat := make(map[string]interface{})
	var walk func(prefix string, node map[string]interface{})
	walk = func(prefix string, node map[string]interface{}) {
		for key, val := range node {
			full := key
			if prefix != "" {
				full = prefix + "." + key
			}
			if child, ok := val.(map[string]interface{}); ok {
				walk(full, child)
			} else {
				flat[full] = val
			}
		}
	}
	walk("", tree)
	return flat, nil
}
