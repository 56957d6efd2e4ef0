package testwebctl

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// BuildTestConfig reads the YAML or JSON object in file, if any, and applies settings of
// the form key=value over it. Dotted keys address nested objects. Values that parse as JSON are
// used as such, anything else is taken as a string.
func BuildTestConfig(file string, settings []string) (map[string]interface{}, error) {
	config := map[string]interface{}{}
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, errors.Wrapf(err, "error reading test config %s", file)
		}
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, errors.Wrapf(err, "test config %s is not an object", file)
		}
		if config == nil {
			config = map[string]interface{}{}
		}
	}

	for _, setting := range settings {
		key, raw, ok := strings.Cut(setting, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid setting %q, expected key=value", setting)
		}
		var value interface{}
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		if err := setPath(config, strings.Split(key, "."), value); err != nil {
			return nil, errors.WithMessagef(err, "invalid setting %q", setting)
		}
	}
	return config, nil
}

func setPath(config map[string]interface{}, path []string, value interface{}) error {
	for _, segment := range path[:len(path)-1] {
		if segment == "" {
			return errors.New("empty key segment")
		}
		next, exists := config[segment]
		if !exists {
			child := map[string]interface{}{}
			config[segment] = child
			config = child
			continue
		}
		child, ok := next.(map[string]interface{})
		if !ok {
			return errors.Errorf("%s is not an object", segment)
		}
		config = child
	}
	last := path[len(path)-1]
	if last == "" {
		return errors.New("empty key segment")
	}
	config[last] = value
	return nil
}
