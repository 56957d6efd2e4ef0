package common

import (
	"bytes"
	"os"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	commonconfig "github.com/testweb/testweb/internal/common/config"
	"github.com/testweb/testweb/internal/common/logging"
)

const EnvPrefix = "TESTWEB"

// LoadConfig reads the yaml defaults, merges each override file over them in order and
// finally applies TESTWEB_* environment variables before decoding into config.
func LoadConfig(config interface{}, defaults []byte, overrideConfigs []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaults)); err != nil {
		return nil, errors.Wrap(err, "error reading default config")
	}

	for _, overrideConfig := range overrideConfigs {
		if strings.TrimSpace(overrideConfig) == "" {
			continue
		}
		v.SetConfigFile(overrideConfig)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrapf(err, "error reading config from %s", overrideConfig)
		}
		log.Infof("Read config from %s", v.ConfigFileUsed())
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(EnvPrefix)
	v.AutomaticEnv()

	if err := v.Unmarshal(config, commonconfig.CustomHooks...); err != nil {
		return nil, errors.Wrap(err, "error decoding config")
	}
	return v, nil
}

func ConfigureLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(&log.TextFormatter{ForceColors: true, FullTimestamp: true})
	log.SetOutput(os.Stdout)
}

// ConfigureCommandLineLogging keeps log lines short and on stderr so command output stays parseable.
func ConfigureCommandLineLogging() {
	log.SetLevel(readEnvironmentLogLevel())
	log.SetFormatter(new(logging.CommandLineFormatter))
	log.SetOutput(os.Stderr)
}

func readEnvironmentLogLevel() log.Level {
	level, ok := os.LookupEnv("LOG_LEVEL")
	if ok {
		logLevel, err := log.ParseLevel(level)
		if err == nil {
			return logLevel
		}
	}
	return log.InfoLevel
}
