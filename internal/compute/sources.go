package compute

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
)

// Kernel source text ships embedded in the binary. A source directory can
// override individual files, which is how kernels are iterated on against a
// real device without rebuilding.

//go:embed kernels/*.cl
var kernelSources embed.FS

// KernelSource returns the source text for the named kernel. If dir is
// non-empty, <dir>/<name>.cl takes precedence over the embedded copy and a
// present-but-unreadable file is an error.
func KernelSource(dir, name string) (string, error) {
	if dir != "" {
		path := filepath.Join(dir, name+".cl")
		data, err := os.ReadFile(path)
		if err == nil {
			return string(data), nil
		}
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("read kernel source %s: %w", path, err)
		}
	}

	data, err := kernelSources.ReadFile("kernels/" + name + ".cl")
	if err != nil {
		return "", fmt.Errorf("read embedded kernel source %s: %w", name, err)
	}
	return string(data), nil
}
