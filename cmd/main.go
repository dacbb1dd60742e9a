// Package main is the production entry point for the encore player.
//
// encore keeps one media player running across track changes and lets
// remotes drive it: an HTTP API with a websocket snapshot stream and an
// MPRIS2 endpoint on the session bus.
//
// Build:
//
//	go build -o build/encore ./cmd
//
// Run:
//
//	./build/encore play --library ~/Music
package main

import "github.com/tejashwikalptaru/encore/internal/cli"

func main() {
	cli.Execute()
}
