package web

import "embed"

// staticFiles holds the run form and status page served at / and /static/.
//
//go:embed static/*
var staticFiles embed.FS
