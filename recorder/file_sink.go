package recorder

import (
	"os"
)

// FileSink writes the record stream to a plain file, truncating any
// existing content.
type FileSink struct {
	path string
	f    *os.File
}

// NewFileSink creates (or truncates) the transcript file at path.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	return &FileSink{path: path, f: f}, nil
}

func (s *FileSink) Write(b []byte) (int, error) { return s.f.Write(b) }
func (s *FileSink) Close() error                { return s.f.Close() }
func (s *FileSink) Name() string                { return "file:" + s.path }
