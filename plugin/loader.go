package plugin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sigmod/ns-server/errors"
)

// Source yields the raw bytes of one plugin spec.
type Source interface {
	// Name identifies the source for logging and error messages
	Name() string
	// Read returns the raw spec payload
	Read() ([]byte, error)
}

// FileSource reads a plugin spec from a file on disk.
type FileSource struct {
	Path string
}

// Name returns the file path
func (s FileSource) Name() string { return s.Path }

// Read returns the file contents
func (s FileSource) Read() ([]byte, error) { return os.ReadFile(s.Path) }

// LiteralSource carries an inline spec payload, used for the override list
// supplied through configuration or environment.
type LiteralSource struct {
	Label   string
	Payload []byte
}

// Name returns the source label
func (s LiteralSource) Name() string { return s.Label }

// Read returns the inline payload
func (s LiteralSource) Read() ([]byte, error) { return s.Payload, nil }

// DirSources lists the *.json spec files of a configuration directory in
// lexical order. A missing directory yields no sources and no error so a
// node without pluggable services starts clean.
func DirSources(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.WrapFatal(err, "plugin", "DirSources", "read spec directory")
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	sources := make([]Source, 0, len(paths))
	for _, p := range paths {
		sources = append(sources, FileSource{Path: p})
	}
	return sources, nil
}

// Load consumes spec sources in order and builds the registry. Descriptors
// with unknown service names or strategies are dropped with a warning, and a
// rest-api-prefix collision keeps the first-loaded descriptor. An unreadable
// or unparseable source is an error; the caller decides whether that is
// fatal to startup.
func Load(logger *slog.Logger, sources []Source) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reg := newRegistry()

	for _, src := range sources {
		payload, err := src.Read()
		if err != nil {
			return nil, errors.WrapFatal(err, "plugin", "Load",
				fmt.Sprintf("read spec source %s", src.Name()))
		}

		var raw rawSpec
		if err := json.Unmarshal(payload, &raw); err != nil {
			return nil, errors.WrapInvalid(err, "plugin", "Load",
				fmt.Sprintf("parse spec source %s", src.Name()))
		}

		desc, err := raw.validate()
		if err != nil {
			logger.Warn("dropping invalid plugin spec",
				"source", src.Name(),
				"service", raw.Service,
				"error", err)
			continue
		}

		if existing, ok := reg.byPrefix[desc.RESTPrefix]; ok {
			// First-registered prefix wins; later duplicates are dropped
			logger.Warn("dropping plugin spec with duplicate prefix",
				"source", src.Name(),
				"prefix", desc.RESTPrefix,
				"service", desc.Service,
				"kept_service", existing.Service)
			continue
		}

		reg.insert(desc)
		logger.Info("registered pluggable service",
			"source", src.Name(),
			"service", desc.Service,
			"prefix", desc.RESTPrefix,
			"strategy", string(desc.Strategy))
	}

	return reg, nil
}
