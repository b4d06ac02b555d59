// Package envinfo collects a canonicalized snapshot of the execution
// environment for inclusion in model-bound context. The snapshot is
// deliberately free of identifying detail (hostname, username, absolute
// paths); anything beyond these fields must come through the sanitization
// funnel on its way out.
package envinfo

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
)

// Package is one installed package of the host environment.
type Package struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// EnvInfo is the canonical environment snapshot.
type EnvInfo struct {
	OS         string    `json:"os"`
	Arch       string    `json:"arch"`
	NumCPU     int       `json:"num_cpu"`
	GoVersion  string    `json:"go_version"`
	AppVersion string    `json:"app_version"`
	Packages   []Package `json:"packages,omitempty"`
}

// Collect builds a snapshot. manifestPath optionally names a JSON package
// manifest exported by the host ([{"name": ..., "version": ...}, ...]); a
// missing manifest is not an error, only an empty package list.
func Collect(appVersion, manifestPath string) (EnvInfo, error) {
	info := EnvInfo{
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		NumCPU:     runtime.NumCPU(),
		GoVersion:  runtime.Version(),
		AppVersion: appVersion,
	}

	if manifestPath == "" {
		return info, nil
	}

	data, err := os.ReadFile(manifestPath)
	if os.IsNotExist(err) {
		return info, nil
	}
	if err != nil {
		return info, fmt.Errorf("failed to read package manifest: %w", err)
	}

	var pkgs []Package
	if err := json.Unmarshal(data, &pkgs); err != nil {
		return info, fmt.Errorf("failed to parse package manifest %s: %w", manifestPath, err)
	}

	// Canonical order keeps snapshots comparable across runs.
	sort.Slice(pkgs, func(i, j int) bool { return pkgs[i].Name < pkgs[j].Name })
	info.Packages = pkgs
	return info, nil
}
