// Package web embeds the assets of the HTML quality report.
package web

import (
	"embed"
)

// ReportTemplate is the path of the report page inside Templates.
const ReportTemplate = "templates/report.html"

// Templates holds the page templates.
//
//go:embed templates/*.html
var Templates embed.FS

// ReportCSS is inlined into the report so it is a single file.
//
//go:embed static/css/report.css
var ReportCSS string

// ReportJS filters the flagged-record table.
//
//go:embed static/js/report.js
var ReportJS string
