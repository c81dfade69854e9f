// Package trajectory appends timestamped poses to a text log, one record
// per line:
//
//	elapsed x y z qx qy qz qw
//
// Every field is fixed point with nine fractional digits. Elapsed time is
// measured from the stamp of the first sample seen.
package trajectory

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/edwinhayes/pathsave/msgs/nav_msgs"
	"github.com/edwinhayes/pathsave/ros"
)

var ErrStreamNotOpen = errors.New("file not open")

const fieldPrecision = 9

// Sample is one pose taken from an odometry message.
type Sample struct {
	Stamp       ros.Time
	Position    [3]float64
	Orientation [4]float64
}

// SampleFromOdometry extracts the stamp, position and orientation of msg.
func SampleFromOdometry(msg *nav_msgs.Odometry) Sample {
	p := msg.Pose.Pose.Position
	q := msg.Pose.Pose.Orientation
	return Sample{
		Stamp:       msg.Header.Stamp,
		Position:    [3]float64{p.X, p.Y, p.Z},
		Orientation: [4]float64{q.X, q.Y, q.Z, q.W},
	}
}

// Logger writes samples to a Stream. It is not safe for concurrent use;
// the node calls it from the spinning goroutine only.
type Logger struct {
	stream  Stream
	log     logrus.FieldLogger
	started bool
	start   ros.Time
	buf     []byte
}

func NewLogger(stream Stream, log logrus.FieldLogger) *Logger {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Logger{stream: stream, log: log}
}

// StartTime returns the stamp of the first sample, if one has been seen.
func (l *Logger) StartTime() (ros.Time, bool) {
	return l.start, l.started
}

// OnOdometry is the subscriber callback. Failures are logged and the sample
// is dropped.
func (l *Logger) OnOdometry(msg *nav_msgs.Odometry) {
	_ = l.Append(SampleFromOdometry(msg))
}

// Append formats s and writes it to the stream.
func (l *Logger) Append(s Sample) error {
	if l.stream == nil || !l.stream.IsOpen() {
		l.log.Error("File not open! Unable to save data.")
		return ErrStreamNotOpen
	}
	if !l.started {
		l.start = s.Stamp
		l.started = true
	}
	elapsed := float64(int64(s.Stamp.ToNSec()-l.start.ToNSec())) / 1e9

	l.buf = appendRecord(l.buf[:0], elapsed, s)
	if _, err := l.stream.Write(l.buf); err != nil {
		l.log.WithError(err).Error("Failed to write trajectory record")
		return errors.Wrap(err, "write trajectory record")
	}
	return nil
}

func appendRecord(b []byte, elapsed float64, s Sample) []byte {
	b = strconv.AppendFloat(b, elapsed, 'f', fieldPrecision, 64)
	for _, v := range s.Position {
		b = append(b, ' ')
		b = strconv.AppendFloat(b, v, 'f', fieldPrecision, 64)
	}
	for _, v := range s.Orientation {
		b = append(b, ' ')
		b = strconv.AppendFloat(b, v, 'f', fieldPrecision, 64)
	}
	return append(b, '\n')
}
