package preferences

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/edutara/edutara/internal/learning"
)

// ErrBlockedAddress is returned when a webhook targets a non-public address.
var ErrBlockedAddress = errors.New("webhook address is not public")

// sharedAddressSpace is the carrier-grade NAT range, which IsPrivate misses.
var sharedAddressSpace = netip.MustParsePrefix("100.64.0.0/10")

// publicAddr reports whether a is routable on the public internet.
func publicAddr(a netip.Addr) bool {
	a = a.Unmap()
	switch {
	case !a.IsValid(),
		a.IsUnspecified(),
		a.IsLoopback(),
		a.IsPrivate(),
		a.IsLinkLocalUnicast(),
		a.IsLinkLocalMulticast(),
		a.IsInterfaceLocalMulticast(),
		a.IsMulticast(),
		sharedAddressSpace.Contains(a):
		return false
	}
	return true
}

// checkWebhookURL rejects URLs that are not http(s) or that name a local
// host or a non-public IP literal. Hostnames that resolve to private
// addresses are caught again when the notifier dials.
func checkWebhookURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &learning.ValidationError{Field: "webhook.url", Reason: "must be an http(s) URL"}
	}
	host := strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return &learning.ValidationError{Field: "webhook.url", Reason: "must not point at a local host"}
	}
	if a, err := netip.ParseAddr(host); err == nil && !publicAddr(a) {
		return &learning.ValidationError{Field: "webhook.url", Reason: "must not point at a private or local address"}
	}
	return nil
}

// guardDial runs after DNS resolution, so it sees the address actually dialled.
func guardDial(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	a, err := netip.ParseAddr(host)
	if err != nil || !publicAddr(a) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// NewWebhookClient returns an HTTP client that refuses to connect to
// loopback, private, link-local and other non-public addresses. It ignores
// proxy settings so the check applies to the real destination.
func NewWebhookClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 5 * time.Second,
		Control: guardDial,
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.Proxy = nil
	transport.DialContext = dialer.DialContext
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 3 {
				return errors.New("too many webhook redirects")
			}
			return checkWebhookURL(req.URL.String())
		},
	}
}
