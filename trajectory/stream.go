package trajectory

import (
	"bufio"
	"os"

	"github.com/pkg/errors"
)

// Stream is an append-only sink for trajectory records.
type Stream interface {
	Write(p []byte) (int, error)
	IsOpen() bool
	Close() error
}

// FileStream appends to a file through a buffered writer. Buffered records
// reach the file on Flush or Close.
type FileStream struct {
	path string
	file *os.File
	w    *bufio.Writer
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*FileStream, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return &FileStream{path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (s *FileStream) Path() string {
	return s.path
}

func (s *FileStream) IsOpen() bool {
	return s != nil && s.file != nil
}

func (s *FileStream) Write(p []byte) (int, error) {
	if !s.IsOpen() {
		return 0, ErrStreamNotOpen
	}
	return s.w.Write(p)
}

func (s *FileStream) Flush() error {
	if !s.IsOpen() {
		return ErrStreamNotOpen
	}
	return errors.Wrapf(s.w.Flush(), "failed to flush %s", s.path)
}

// Close flushes and closes the file. Closing twice is a no-op.
func (s *FileStream) Close() error {
	if !s.IsOpen() {
		return nil
	}
	flushErr := s.w.Flush()
	closeErr := s.file.Close()
	s.file = nil
	s.w = nil
	if flushErr != nil {
		return errors.Wrapf(flushErr, "failed to flush %s", s.path)
	}
	return errors.Wrapf(closeErr, "failed to close %s", s.path)
}
