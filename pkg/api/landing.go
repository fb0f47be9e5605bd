package api

import _ "embed"

// indexHTML is the static landing page served at the root path
//
//go:embed index.html
var indexHTML []byte
