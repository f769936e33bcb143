// Package origin implements the browser Origin policy for the relay.
//
// The rendezvous service is open by design: with no configured allow-list any
// origin may connect. Deployments that want to lock the relay to a known
// frontend configure an explicit allow-list of normalized origins.
package origin

import (
	"net/url"
	"strconv"
	"strings"
)

// Normalize validates a browser Origin header and returns it in canonical
// scheme://host[:port] form, with default ports folded away. The special
// value "null" (sandboxed documents, file://) is passed through.
func Normalize(originHeader string) (string, bool) {
	trimmed := strings.TrimSpace(originHeader)
	if trimmed == "" {
		return "", false
	}
	if trimmed == "null" {
		return "null", true
	}

	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || u.User != nil || u.RawQuery != "" || u.Fragment != "" {
		return "", false
	}
	if u.Path != "" && u.Path != "/" {
		return "", false
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	hostname := strings.ToLower(u.Hostname())
	if hostname == "" {
		return "", false
	}

	var port uint64
	if rawPort := u.Port(); rawPort != "" {
		n, err := strconv.ParseUint(rawPort, 10, 16)
		if err != nil || n == 0 {
			return "", false
		}
		port = n
	}
	if (scheme == "http" && port == 80) || (scheme == "https" && port == 443) {
		port = 0
	}

	host := hostname
	if strings.Contains(hostname, ":") {
		host = "[" + hostname + "]"
	}
	if port != 0 {
		host += ":" + strconv.FormatUint(port, 10)
	}
	return scheme + "://" + host, true
}

// Allowed reports whether a request with the given Origin header may connect.
//
// An empty allow-list admits everything, including requests without an Origin
// header (non-browser clients). A non-empty allow-list admits no-Origin
// requests and origins matching an entry; entries may be "*" or origins in
// the same canonical form Normalize produces.
func Allowed(originHeader string, allowlist []string) bool {
	if strings.TrimSpace(originHeader) == "" {
		return true
	}
	if len(allowlist) == 0 {
		return true
	}

	normalized, ok := Normalize(originHeader)
	if !ok {
		return false
	}
	for _, entry := range allowlist {
		if entry == "*" || entry == normalized {
			return true
		}
	}
	return false
}
