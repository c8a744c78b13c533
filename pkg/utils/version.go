// Package utils provides bespoke, one off utils that don't make sense to be
// their own package
package utils

// Set at build time through -ldflags -X.
var (
	Version   = "dev"
	Sha       = "HEAD"
	Buildtime = "dev"
)

// UserAgent identifies ragrelay binaries on outbound requests, both from the
// relay to its upstream and from the CLI to the relay.
func UserAgent() string {
	return "ragrelay/" + Version
}
