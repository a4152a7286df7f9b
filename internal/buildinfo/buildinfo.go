// Package buildinfo extracts module build information for the /version
// endpoint each service exposes.
package buildinfo

import (
	"runtime/debug"
	"sort"
)

// Dependency is one resolved module dependency.
type Dependency struct {
	Path    string `json:"path"`
	Version string `json:"version"`
	Replace string `json:"replace,omitempty"`
}

// BuildInfo is the shape returned by GET /version.
type BuildInfo struct {
	GoVersion    string       `json:"goVersion"`
	MainModule   string       `json:"mainModule"`
	MainVersion  string       `json:"mainVersion"`
	Dependencies []Dependency `json:"dependencies"`
}

// Get reads build information embedded at build time by the Go toolchain.
func Get() *BuildInfo {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return &BuildInfo{GoVersion: "unknown", MainModule: "unknown", MainVersion: "unknown"}
	}

	out := &BuildInfo{
		GoVersion:    info.GoVersion,
		MainModule:   info.Path,
		MainVersion:  info.Main.Version,
		Dependencies: make([]Dependency, 0, len(info.Deps)),
	}
	for _, dep := range info.Deps {
		d := Dependency{Path: dep.Path, Version: dep.Version}
		if dep.Replace != nil {
			d.Replace = dep.Replace.Path + "@" + dep.Replace.Version
		}
		out.Dependencies = append(out.Dependencies, d)
	}
	sort.Slice(out.Dependencies, func(i, j int) bool {
		return out.Dependencies[i].Path < out.Dependencies[j].Path
	})
	return out
}
