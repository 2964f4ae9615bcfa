//go:build linux

package config

import (
	"github.com/marmos91/fsal/pkg/backend/posix"
	"github.com/marmos91/fsal/pkg/fsal"
)

// createPosixBackend decodes options into posix.Config and opens the
// exported directory.
func createPosixBackend(options map[string]any) (fsal.Backend, error) {
	var cfg posix.Config
	if err := decodeSection("posix", options, &cfg); err != nil {
		return nil, err
	}
	return posix.New(cfg)
}
