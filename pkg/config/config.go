package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Load loads the YAML configuration from the file at the given path into
// conf.
//
// If expandEnv is true, environment variable references in the file are
// expanded before parsing. References have form ${VAR} or $VAR, with an
// optional default given as ${VAR:default}.
func Load(path string, conf interface{}, expandEnv bool) error {
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %s: %w", path, err)
	}

	if expandEnv {
		buf = expandEnvVars(buf)
	}

	dec := yaml.NewDecoder(bytes.NewReader(buf))
	dec.KnownFields(true)

	if err := dec.Decode(conf); err != nil {
		return fmt.Errorf("parse config: %s: %w", path, err)
	}

	return nil
}

var envRe = regexp.MustCompile(`\$\{([a-zA-Z_][a-zA-Z0-9_]*)(:[^}]*)?\}|\$([a-zA-Z_][a-zA-Z0-9_]*)`)

func expandEnvVars(b []byte) []byte {
	return envRe.ReplaceAllFunc(b, func(match []byte) []byte {
		groups := envRe.FindSubmatch(match)

		name := string(groups[1])
		if name == "" {
			name = string(groups[3])
		}

		if v, ok := os.LookupEnv(name); ok {
			return []byte(v)
		}
		// Fall back to the default value if given (strip the leading ':').
		if len(groups[2]) > 0 {
			return groups[2][1:]
		}
		return nil
	})
}
