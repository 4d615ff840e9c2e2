// Package logging contains the structured logger shared by the recirc
// host and its helper binaries.
package logging

import (
	"os"

	"github.com/apex/log"
	"github.com/apex/log/handlers/json"
)

// Logger is a logger that logs messages on the standard error
// in a structured JSON format, to simplify processing. Emitting logs
// on the standard error keeps the standard output free for the
// per-hop progress lines the experiment tooling has always printed.
var Logger = log.Logger{
	Handler: json.New(os.Stderr),
	Level:   log.DebugLevel,
}
