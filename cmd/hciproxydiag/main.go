// Command hciproxydiag is a diagnostic CLI for the HCI offload proxy: it
// decodes raw HCI command/event/ISO-data bytes for inspection, and exposes
// the arbiter's Prometheus metric surface for ad hoc scraping checks.
//
// Grounded on cmd/gosedctl's kong-based command-line layout and
// cmd/tcgdiskstat/metric.go's gather-then-expfmt output pattern.
package main

import (
	"github.com/alecthomas/kong"
)

const (
	programName = "hciproxydiag"
	programDesc = "HCI offload proxy diagnostics"
)

func main() {
	ctx := kong.Parse(&cli,
		kong.Name(programName),
		kong.Description(programDesc),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	err := ctx.Run(&context{})
	ctx.FatalIfErrorf(err)
}
