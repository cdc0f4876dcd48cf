package main

import (
	"embed"
	"fmt"
)

//go:embed static/index.html static/browser.html
var embeddedFiles embed.FS

// loadPage returns the viewer page for a detection variant. The browser
// variant runs detection client-side on a canvas; the others just show the
// stream.
func loadPage(detect string) ([]byte, error) {
	name := "index.html"
	if detect == DetectBrowser {
		name = "browser.html"
	}

	page, err := embeddedFiles.ReadFile("static/" + name)
	if err != nil {
		return nil, fmt.Errorf("read embedded page %s: %w", name, err)
	}
	return page, nil
}
