// Command path_save subscribes to an odometry topic and appends every pose
// to a trajectory file, one line per message:
//
//	elapsed x y z qx qy qz qw
//
// Options are read from the parameter server (topic_name, file_path under
// /liorf/save_path/ or the node's private namespace) and from an optional
// YAML or JSON file given with -config.
//
//	path_save _file_path:=/tmp/path.txt _topic_name:=/odom
package main

import (
	"flag"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/edwinhayes/pathsave/config"
	"github.com/edwinhayes/pathsave/msgs/nav_msgs"
	"github.com/edwinhayes/pathsave/ros"
	"github.com/edwinhayes/pathsave/trajectory"
)

const nodeName = "path_save"

const (
	exitOK = iota
	exitOpenFailure
	exitSetupFailure
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	node, err := ros.NewNode(nodeName, args)
	if err != nil {
		logrus.WithError(err).Error("Failed to create node")
		return exitSetupFailure
	}
	defer node.Shutdown()
	log := node.Logger()

	flags := flag.NewFlagSet(nodeName, flag.ContinueOnError)
	configFile := flags.String("config", "", "YAML or JSON file with topic_name, file_path and log_level")
	if err := flags.Parse(node.NonRosArgs()); err != nil {
		log.WithError(err).Error("Invalid arguments")
		return exitSetupFailure
	}

	cfg, err := config.Resolve(node, *configFile, log)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		return exitSetupFailure
	}
	if level, err := cfg.Level(); err != nil {
		log.Warn(err)
	} else {
		log.Logger.SetLevel(level)
	}

	stream, err := trajectory.OpenFile(cfg.FilePath)
	if err != nil {
		log.WithError(err).Errorf("Failed to open file: %s", cfg.FilePath)
		return exitOpenFailure
	}
	defer stream.Close()
	log.Infof("File opened successfully. Saving data to: %s", cfg.FilePath)

	logger := trajectory.NewLogger(stream, log.WithField("file", cfg.FilePath))
	if _, err := node.NewSubscriber(cfg.TopicName, nav_msgs.MsgOdometry, logger.OnOdometry); err != nil {
		log.WithError(err).Errorf("Failed to subscribe to %s", cfg.TopicName)
		return exitSetupFailure
	}
	log.Debugf("Subscribed to %s", cfg.TopicName)

	node.Spin()

	node.Shutdown()
	if err := stream.Close(); err != nil {
		log.WithError(err).Error("Failed to close file")
	}
	return exitOK
}
