package main

import (
	"embed"
)

// appsFS holds whatever tools/genapps has placed under apps/ at build
// time; loader.NewTable is built from its contents at startup.
//
//go:embed all:apps
var appsFS embed.FS

func loadEmbeddedApps() map[string][]byte {
	entries, err := appsFS.ReadDir("apps")
	if err != nil {
		return nil
	}
	out := make(map[string][]byte, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == "README.md" || e.Name() == "manifest.go" {
			continue
		}
		data, err := appsFS.ReadFile("apps/" + e.Name())
		if err != nil {
			continue
		}
		out[e.Name()] = data
	}
	return out
}
