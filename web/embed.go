package web

import "embed"

// TemplatesFS holds the page templates and their partials.
//
//go:embed templates/*.html
var TemplatesFS embed.FS

// StaticFS holds the stylesheet and client scripts.
//
//go:embed static/*
var StaticFS embed.FS
