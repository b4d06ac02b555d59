package dispatch

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"
)

// deniedRanges covers loopback, RFC 1918 private space, link-local, CGNAT,
// and multicast. Outbound dispatch to any of these is refused unless the
// endpoint is explicitly configured as local.
var deniedRanges = mustParseCIDRs(
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"100.64.0.0/10",
	"224.0.0.0/4",
	"0.0.0.0/8",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
	"ff00::/8",
)

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			panic(fmt.Sprintf("bad builtin CIDR %q: %v", c, err))
		}
		out = append(out, ipnet)
	}
	return out
}

func deniedIP(ip net.IP) bool {
	for _, r := range deniedRanges {
		if r.Contains(ip) {
			return true
		}
	}
	return false
}

// CheckEndpoint resolves baseURL and rejects it if any resolved address falls
// in a denied range. Resolution here is advisory; the dial-time control hook
// re-checks the actual connect address, closing the DNS-rebinding gap between
// this check and the connection.
func CheckEndpoint(ctx context.Context, baseURL string, allowLocal bool) error {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Errorf("invalid endpoint %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: unsupported scheme %q", ErrSSRFBlocked, u.Scheme)
	}
	if allowLocal {
		return nil
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("invalid endpoint %q: no host", baseURL)
	}

	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", host, err)
	}
	for _, addr := range addrs {
		if deniedIP(addr.IP) {
			return fmt.Errorf("%w: %s resolves to %s", ErrSSRFBlocked, host, addr.IP)
		}
	}
	return nil
}

// guardedTransport builds the HTTP transport for outbound dispatch. The
// Control hook rejects denied addresses at connect time, and redirects that
// change origin are refused so a compliant first hop cannot bounce the
// request somewhere denied.
func guardedTransport(allowLocal bool, onBlocked func()) *http.Transport {
	dialer := &net.Dialer{
		Timeout:   10 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	if !allowLocal {
		dialer.Control = func(network, address string, c syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			ip := net.ParseIP(host)
			if ip == nil || deniedIP(ip) {
				if onBlocked != nil {
					onBlocked()
				}
				return fmt.Errorf("%w: connect to %s refused", ErrSSRFBlocked, host)
			}
			return nil
		}
	}

	return &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

// noCrossOriginRedirects refuses redirects that leave the original host.
func noCrossOriginRedirects(req *http.Request, via []*http.Request) error {
	if len(via) == 0 {
		return nil
	}
	if req.URL.Host != via[0].URL.Host || req.URL.Scheme != via[0].URL.Scheme {
		return fmt.Errorf("%w: redirect to %s refused", ErrSSRFBlocked, req.URL.Host)
	}
	if len(via) >= 5 {
		return fmt.Errorf("too many redirects")
	}
	return nil
}
