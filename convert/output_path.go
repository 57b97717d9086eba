package convert

import (
	"path/filepath"
	"strings"

	"mlxc/config"
	"mlxc/state"
)

// buildOutputPath returns the constructed output file path based on the
// source path relative to the conversion root (always ending in the base file
// name), the destination directory and the requested extension. Source
// directory structure is mirrored on the output unless suppressed.
func buildOutputPath(src, dst, ext string, env *state.LocalEnv) string {
	outDir := dst
	if !env.NoDirs {
		if dir := filepath.Dir(src); dir != "." {
			outDir = filepath.Join(dst, dir)
		}
	}
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src))
	return filepath.Join(outDir, config.CleanFileName(base)+ext)
}
