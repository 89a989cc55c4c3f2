package identity

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromParts(t *testing.T) {
	tests := []struct {
		name         string
		accountID    string
		forwardedFor string
		remoteAddr   string
		want         string
	}{
		{"account wins", "user-42", "203.0.113.7", "10.0.0.1:5555", "acct:user-42"},
		{"first forwarded address", "", "203.0.113.7, 10.0.0.2, 10.0.0.3", "10.0.0.1:5555", "ip:203.0.113.7"},
		{"forwarded address is trimmed", "", "  198.51.100.4 ,10.0.0.2", "", "ip:198.51.100.4"},
		{"empty first forwarded entry", "", " , 10.0.0.2", "192.0.2.1:80", "ip:192.0.2.1"},
		{"transport address without port", "", "", "192.0.2.1:443", "ip:192.0.2.1"},
		{"ipv6 transport address", "", "", "[2001:db8::1]:443", "ip:2001:db8::1"},
		{"transport address without port separator", "", "", "pipe", "ip:pipe"},
		{"blank account id is ignored", "   ", "", "192.0.2.9:1", "ip:192.0.2.9"},
		{"nothing known", "", "", "", Unknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromParts(tt.accountID, tt.forwardedFor, tt.remoteAddr))
		})
	}
}

func TestResolveRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/api/usage", nil)
	req.RemoteAddr = "10.1.1.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.50, 10.1.1.1")

	assert.Equal(t, "ip:203.0.113.50", Resolve(req, ""))
	assert.Equal(t, "acct:acct-1", Resolve(req, "acct-1"))

	// Deterministic across calls for the same caller.
	assert.Equal(t, Resolve(req, ""), Resolve(req, ""))

	assert.Equal(t, Unknown, Resolve(nil, ""))
}

func TestForgedAddressCannotTakeAnAccountIdentity(t *testing.T) {
	owner := "9b2f6c1e-6a3e-4f43-9d0a-3f1f2b8c7d10"

	account := FromParts(owner, "", "")
	forged := FromParts("", owner, "10.0.0.1:1234")

	assert.NotEqual(t, account, forged)
	assert.Equal(t, "ip:"+owner, forged)
	assert.NotEqual(t, FromParts("", "", "unknown:80"), Unknown)
}
