// Package config holds the settings shared by the profiler UI and the
// command line tool.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Version is the version of sqlprof.
const Version = "0.3.0"

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "SQLPROF_"

// DefaultEnvFile is read by Load when no file is given. It may be missing.
const DefaultEnvFile = ".env"

// RenderPosition is the corner of the page the results popup is shown in.
type RenderPosition string

// Supported positions.
const (
	PositionLeft        RenderPosition = "left"
	PositionRight       RenderPosition = "right"
	PositionBottomLeft  RenderPosition = "bottomleft"
	PositionBottomRight RenderPosition = "bottomright"
)

func (p RenderPosition) valid() bool {
	switch p {
	case PositionLeft, PositionRight, PositionBottomLeft, PositionBottomRight:
		return true
	default:
		return false
	}
}

// Settings configure how sessions are recorded, stored and shown.
type Settings struct {
	// RouteBasePath is where the UI handler is mounted. It always ends with
	// a slash.
	RouteBasePath string

	PopupRenderPosition  RenderPosition
	ShowTrivial          bool
	ShowTimeWithChildren bool
	MaxTracesToShow      int

	// TrivialMilliseconds is the duration under which timings are hidden
	// unless ShowTrivial is set.
	TrivialMilliseconds float64

	ListenAddr string

	// StoragePath is the SQLite database sessions are saved to. Sessions
	// are kept in memory when it is empty.
	StoragePath string

	// AssetsDir replaces the popup assets compiled into the binary.
	AssetsDir string

	// MaxInFlightAge drops operations that never completed. Zero keeps them
	// until the session ends.
	MaxInFlightAge time.Duration

	// ClickHouseAddr is where every operation is also written to for later
	// analysis. Nothing is written when it is empty.
	ClickHouseAddr     string
	ClickHouseDatabase string
	ClickHouseUsername string
	ClickHousePassword string

	Version string
}

// Default returns the default settings.
func Default() Settings {
	return Settings{
		RouteBasePath:        "/profiler/",
		PopupRenderPosition:  PositionLeft,
		ShowTrivial:          false,
		ShowTimeWithChildren: false,
		MaxTracesToShow:      15,
		TrivialMilliseconds:  2.0,
		ListenAddr:           ":3001",
		ClickHouseDatabase:   "default",
		Version:              Version,
	}
}

// Load returns the default settings overridden by the given env files and
// then by the environment. Without files, DefaultEnvFile is read if it
// exists.
func Load(files ...string) (Settings, error) {
	fileValues, err := readEnvFiles(files)
	if err != nil {
		return Settings{}, err
	}

	lookup := func(name string) (string, bool) {
		key := EnvPrefix + name

		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}

		v, ok := fileValues[key]

		return v, ok
	}

	s := Default()
	if err := s.apply(lookup); err != nil {
		return Settings{}, err
	}

	return s, nil
}

func readEnvFiles(files []string) (map[string]string, error) {
	if len(files) == 0 {
		values, err := godotenv.Read(DefaultEnvFile)
		if errors.Is(err, fs.ErrNotExist) {
			return map[string]string{}, nil
		}

		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", DefaultEnvFile, err)
		}

		return values, nil
	}

	values, err := godotenv.Read(files...)
	if err != nil {
		return nil, fmt.Errorf("reading env files: %w", err)
	}

	return values, nil
}

func (s *Settings) apply(lookup func(string) (string, bool)) error {
	var errs error

	str := func(name string, dst *string) {
		if v, ok := lookup(name); ok {
			*dst = v
		}
	}

	boolean := func(name string, dst *bool) {
		if v, ok := lookup(name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}

			*dst = b
		}
	}

	str("ROUTE_BASE_PATH", &s.RouteBasePath)
	str("LISTEN_ADDR", &s.ListenAddr)
	str("STORAGE_PATH", &s.StoragePath)
	str("ASSETS_DIR", &s.AssetsDir)
	str("CLICKHOUSE_ADDR", &s.ClickHouseAddr)
	str("CLICKHOUSE_DATABASE", &s.ClickHouseDatabase)
	str("CLICKHOUSE_USERNAME", &s.ClickHouseUsername)
	str("CLICKHOUSE_PASSWORD", &s.ClickHousePassword)
	boolean("SHOW_TRIVIAL", &s.ShowTrivial)
	boolean("SHOW_TIME_WITH_CHILDREN", &s.ShowTimeWithChildren)

	if v, ok := lookup("POPUP_RENDER_POSITION"); ok {
		s.PopupRenderPosition = RenderPosition(strings.ToLower(v))
	}

	if v, ok := lookup("MAX_TRACES_TO_SHOW"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sMAX_TRACES_TO_SHOW: %w", EnvPrefix, err))
		} else {
			s.MaxTracesToShow = n
		}
	}

	if v, ok := lookup("TRIVIAL_MILLISECONDS"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sTRIVIAL_MILLISECONDS: %w", EnvPrefix, err))
		} else {
			s.TrivialMilliseconds = f
		}
	}

	if v, ok := lookup("MAX_IN_FLIGHT_AGE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%sMAX_IN_FLIGHT_AGE: %w", EnvPrefix, err))
		} else {
			s.MaxInFlightAge = d
		}
	}

	return multierr.Append(errs, s.Validate())
}

// Validate checks the settings and normalizes the route base path.
func (s *Settings) Validate() error {
	if !strings.HasPrefix(s.RouteBasePath, "/") {
		s.RouteBasePath = "/" + s.RouteBasePath
	}

	if !strings.HasSuffix(s.RouteBasePath, "/") {
		s.RouteBasePath += "/"
	}

	if !s.PopupRenderPosition.valid() {
		return fmt.Errorf("unknown popup position %q", s.PopupRenderPosition)
	}

	if s.MaxTracesToShow < 1 {
		return fmt.Errorf("max traces to show must be positive, got %d",
			s.MaxTracesToShow)
	}

	if s.MaxInFlightAge < 0 {
		return fmt.Errorf("max in-flight age must not be negative, got %s",
			s.MaxInFlightAge)
	}

	return nil
}
