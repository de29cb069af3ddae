// Package config reads service configuration from the environment.
//
// Chat settings live under the FOUNDLINE_ prefix; struct fields declare
// their variable and default through `env` tags.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from environment variables according to its `env`
// tags. Fields without a matching variable keep their tagged default.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
