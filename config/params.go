package config

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ParamSource is the part of ros.Node used to read parameters.
type ParamSource interface {
	HasParam(name string) (bool, error)
	GetParam(name string) (interface{}, error)
}

// ApplyParams overlays parameter server values onto c: first the shared
// keys under SharedNamespace, then the node's private keys. A key that is
// missing, unreadable or not a string keeps the current value; the last two
// cases are logged.
func (c *Config) ApplyParams(src ParamSource, log logrus.FieldLogger) {
	for _, prefix := range []string{SharedNamespace, "~"} {
		c.applyParam(src, log, prefix+"topic_name", &c.TopicName)
		c.applyParam(src, log, prefix+"file_path", &c.FilePath)
	}
	c.applyParam(src, log, "~log_level", &c.LogLevel)
}

func (c *Config) applyParam(src ParamSource, log logrus.FieldLogger, key string, dst *string) {
	value, err := lookupString(src, key)
	switch {
	case err != nil:
		log.WithField("param", key).Warnf("Using %q: %v", *dst, err)
	case value != "":
		*dst = value
	}
}

func lookupString(src ParamSource, key string) (string, error) {
	ok, err := src.HasParam(key)
	if err != nil || !ok {
		return "", err
	}
	value, err := src.GetParam(key)
	if err != nil {
		return "", err
	}
	s, ok := value.(string)
	if !ok {
		return "", errors.Errorf("expected a string but got %T", value)
	}
	return s, nil
}

// Resolve builds the node configuration: defaults, then configFile if not
// empty, then the parameter server.
func Resolve(src ParamSource, configFile string, log logrus.FieldLogger) (Config, error) {
	c := Defaults()
	if configFile != "" {
		if err := c.LoadFile(configFile); err != nil {
			return c, err
		}
	}
	if src != nil {
		c.ApplyParams(src, log)
	}
	return c, nil
}
