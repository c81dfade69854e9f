// Package config resolves the options of the path_save node from built-in
// defaults, an optional config file and the ROS parameter server.
package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/buger/jsonparser"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTopicName = "/liorf/mapping/odometry"
	DefaultLogLevel  = "info"

	// SharedNamespace holds the parameters the liorf launch files set for
	// this node.
	SharedNamespace = "/liorf/save_path/"
)

// Config is the resolved node configuration.
type Config struct {
	TopicName string `yaml:"topic_name"`
	FilePath  string `yaml:"file_path"`
	LogLevel  string `yaml:"log_level"`
}

// DefaultFilePath is the trajectory file under the liorf workspace in the
// user's home directory.
func DefaultFilePath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = "/root"
	}
	return filepath.Join(home, "Workspace", "test_catkin_ws", "src", "liorf", "data", "liorf_path.txt")
}

func Defaults() Config {
	return Config{
		TopicName: DefaultTopicName,
		FilePath:  DefaultFilePath(),
		LogLevel:  DefaultLogLevel,
	}
}

// Level parses LogLevel.
func (c Config) Level() (logrus.Level, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return logrus.InfoLevel, errors.Wrap(err, "log_level")
	}
	return level, nil
}

// LoadFile overlays the options found in a YAML or JSON file onto c.
// Options missing from the file keep their current value.
func (c *Config) LoadFile(path string) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read config")
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = c.loadYAML(data)
	case ".json":
		err = c.loadJSON(data)
	default:
		return errors.Errorf("config %s: unsupported file type", path)
	}
	return errors.Wrapf(err, "parse config %s", path)
}

func (c *Config) loadYAML(data []byte) error {
	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	c.merge(file)
	return nil
}

func (c *Config) loadJSON(data []byte) error {
	var file Config
	fields := []struct {
		key string
		dst *string
	}{
		{"topic_name", &file.TopicName},
		{"file_path", &file.FilePath},
		{"log_level", &file.LogLevel},
	}
	for _, f := range fields {
		value, err := jsonparser.GetString(data, f.key)
		if err == jsonparser.KeyPathNotFoundError {
			continue
		}
		if err != nil {
			return errors.Wrap(err, f.key)
		}
		*f.dst = value
	}
	c.merge(file)
	return nil
}

func (c *Config) merge(other Config) {
	if other.TopicName != "" {
		c.TopicName = other.TopicName
	}
	if other.FilePath != "" {
		c.FilePath = other.FilePath
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
}
