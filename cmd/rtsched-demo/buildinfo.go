package main

// Normally overwritten at build time via -ldflags; left as placeholders here.
var (
	Version = "dev"
	GitInfo = "unknown"
)
