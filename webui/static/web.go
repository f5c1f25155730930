// Package static includes the scripts, styles and templates of the results
// popup.
package static

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
)

//go:embed dist/*
var dist embed.FS

// Option selects where the assets are read from.
type Option func(o *options)

type options struct {
	dir string
}

// WithDir reads the assets from a directory instead of the binary.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithSourceDir reads the assets from the dist directory of a source checkout,
// so that edits show up without rebuilding.
func WithSourceDir() Option {
	_, file, _, ok := runtime.Caller(0)

	return func(o *options) {
		if ok {
			o.dir = filepath.Join(filepath.Dir(file), "dist")
		}
	}
}

// Embedded returns the assets compiled into the binary.
func Embedded() http.FileSystem {
	sub, err := fs.Sub(dist, "dist")
	if err != nil {
		panic(err)
	}

	return http.FS(sub)
}

// Assets returns the assets selected by opts. Without options, these are the
// embedded assets.
func Assets(opts ...Option) (http.FileSystem, error) {
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	if o.dir == "" {
		return Embedded(), nil
	}

	info, err := os.Stat(o.dir)
	if err != nil {
		return nil, fmt.Errorf("reading assets: %w", err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("reading assets: %s is not a directory", o.dir)
	}

	return http.Dir(o.dir), nil
}
