package pdb

import (
	"io"

	"github.com/sirupsen/logrus"
)

// Option configures a File opened via Open or OpenReader.
type Option func(*options)

type options struct {
	logger *logrus.Logger
}

func defaultOptions() *options {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &options{logger: logger}
}

// WithLogger injects a logrus.Logger the File uses for benign-skip
// notices, all at Debug level: missing optional streams (section headers,
// IPI), an unrecognized section contribution version, and FASTLINK
// detection. Logging is never the only report of a failure: where such a
// condition also makes a call fail, that call still returns the error.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(opts []Option) *options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (f *File) log() *logrus.Logger {
	if f.opts == nil || f.opts.logger == nil {
		return defaultOptions().logger
	}
	return f.opts.logger
}
