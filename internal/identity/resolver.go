package identity

import (
	"net"
	"net/http"
	"strings"
)

// Unknown is the shared identity of callers with no account and no address.
const Unknown = "unknown"

const forwardedForHeader = "X-Forwarded-For"

// Account ids and network addresses live in separate namespaces, so a forged
// address can never land on an account's counter.
const (
	accountPrefix = "acct:"
	addressPrefix = "ip:"
)

// Resolve derives the caller identity of r. An authenticated account id wins
// as acct:<id>; otherwise the first X-Forwarded-For entry, then the transport
// address, both as ip:<addr>, then Unknown.
func Resolve(r *http.Request, accountID string) string {
	if r == nil {
		return FromParts(accountID, "", "")
	}
	return FromParts(accountID, r.Header.Get(forwardedForHeader), r.RemoteAddr)
}

// FromParts is Resolve without a request.
func FromParts(accountID, forwardedFor, remoteAddr string) string {
	if id := strings.TrimSpace(accountID); id != "" {
		return accountPrefix + id
	}

	if forwardedFor != "" {
		first, _, _ := strings.Cut(forwardedFor, ",")
		if first = strings.TrimSpace(first); first != "" {
			return addressPrefix + first
		}
	}

	if addr := hostOnly(remoteAddr); addr != "" {
		return addressPrefix + addr
	}

	return Unknown
}

// Strips the port so reconnects from the same host share a counter
func hostOnly(remoteAddr string) string {
	remoteAddr = strings.TrimSpace(remoteAddr)
	if remoteAddr == "" {
		return ""
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
