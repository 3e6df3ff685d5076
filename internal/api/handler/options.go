package handler

import (
	"log"
	"os"
)

// Option handler 的可选配置
type Option func(*options)

type options struct {
	logger *log.Logger
}

// WithHandlerLogger 设置 handler 的日志记录器
func WithHandlerLogger(logger *log.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func buildOptions(prefix string, opts []Option) options {
	o := options{logger: log.New(os.Stdout, prefix, log.LstdFlags|log.Lshortfile)}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
