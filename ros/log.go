package ros

import (
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger returns the logger a node writes to. Output goes to stderr with
// full timestamps; ROS_LOG_LEVEL selects the initial level.
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	logger.Out = os.Stderr
	logger.Formatter = &logrus.TextFormatter{FullTimestamp: true}
	logger.Level = logrus.InfoLevel
	if level, err := logrus.ParseLevel(os.Getenv("ROS_LOG_LEVEL")); err == nil {
		logger.Level = level
	}
	return logger
}
