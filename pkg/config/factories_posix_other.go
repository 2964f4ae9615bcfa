//go:build !linux

package config

import (
	"fmt"
	"runtime"

	"github.com/marmos91/fsal/pkg/fsal"
)

func createPosixBackend(map[string]any) (fsal.Backend, error) {
	return nil, fmt.Errorf("posix backend is not supported on %s", runtime.GOOS)
}
