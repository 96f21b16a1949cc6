package builtins

import (
	"strings"

	"golang.org/x/net/idna"
)

// normalizeHostname converts an internationalized hostname to its ASCII
// (punycode) form before any private-range comparison, so a homograph or
// Unicode-confusable hostname (e.g. a full-width digit rendering of
// "127.0.0.1") can't slip past the localhost and literal-IP checks in
// IsPrivateHostname. Returns the input unchanged if it isn't valid IDNA --
// callers still run the literal-IP and suffix checks against that raw form.
func normalizeHostname(host string) string {
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return host
	}
	return strings.ToLower(ascii)
}
