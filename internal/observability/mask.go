package observability

import "regexp"

var (
	rePassword = regexp.MustCompile(`(?i)(password=)([^\s;&]+)`)
	reToken    = regexp.MustCompile(`(?i)(token=|bearer\s+)([A-Za-z0-9._-]+)`)
	reURLCreds = regexp.MustCompile(`(://)([^:/@\s]+):([^\s]+)(@)`)
	reBareDSN  = regexp.MustCompile(`(^|\s)([^:/@\s]+):([^\s]+)(@)`)
	reAPIKey   = regexp.MustCompile(`(?i)(apikey=|api_key=|x-api-key:\s*)([^\s;&]+)`)
	reSKKey    = regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{8,}`)
)

// Mask redacts credentials from driver and client error text before it is
// logged or returned to a caller. Warehouse drivers echo DSNs in connection
// errors, which for Snowflake take the form user:password@account/db.
func Mask(s string) string {
	out := s
	out = rePassword.ReplaceAllString(out, "$1***")
	out = reToken.ReplaceAllString(out, "$1***")
	out = reURLCreds.ReplaceAllString(out, "$1*:*$4")
	out = reBareDSN.ReplaceAllString(out, "$1*:*$4")
	out = reAPIKey.ReplaceAllString(out, "$1***")
	out = reSKKey.ReplaceAllString(out, "sk-***")
	return out
}
