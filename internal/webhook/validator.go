package webhook

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"
)

var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrEmptyHost        = errors.New("URL must have a host")
	ErrInvalidScheme    = errors.New("only HTTPS allowed")
	ErrInsecureScheme   = errors.New("only HTTP(S) allowed")
	ErrInvalidPort      = errors.New("only port 443 allowed")
	ErrLocalhostBlocked = errors.New("localhost not allowed")
	ErrPrivateIP        = errors.New("private IP addresses not allowed")
)

// lookupTimeout bounds the DNS check done when a sink is built.
const lookupTimeout = 5 * time.Second

// blockedPrefixes are ranges a subscriber must never resolve to.
var blockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fe80::/10"),
}

// Resolver looks up host addresses. *net.Resolver satisfies it.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// TargetPolicy decides which subscriber URLs and addresses the sink may
// reach. The zero value is the strict production policy.
type TargetPolicy struct {
	// AllowPrivate keeps only the http/https and host checks, for
	// subscribers running next to the worker in development.
	AllowPrivate bool
	// Resolver defaults to net.DefaultResolver.
	Resolver Resolver
}

// ValidateTargetURL checks targetURL with a TargetPolicy using the system
// resolver.
func ValidateTargetURL(targetURL string, allowPrivate bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), lookupTimeout)
	defer cancel()
	return TargetPolicy{AllowPrivate: allowPrivate}.Check(ctx, targetURL)
}

// Check validates targetURL. Names that fail to resolve pass here; the
// dial guard installed by the sink's HTTP client still rejects them if
// they later resolve to a blocked address.
func (p TargetPolicy) Check(ctx context.Context, targetURL string) error {
	u, err := url.Parse(targetURL)
	if err != nil {
		return ErrInvalidURL
	}
	host := u.Hostname()

	if p.AllowPrivate {
		if u.Scheme != "http" && u.Scheme != "https" {
			return ErrInsecureScheme
		}
		if host == "" {
			return ErrEmptyHost
		}
		return nil
	}

	if u.Scheme != "https" {
		return ErrInvalidScheme
	}
	if host == "" {
		return ErrEmptyHost
	}
	if port := u.Port(); port != "" && port != "443" {
		return ErrInvalidPort
	}
	if isLocalName(host) {
		return ErrLocalhostBlocked
	}

	if addr, err := netip.ParseAddr(host); err == nil {
		return checkAddr(addr)
	}
	addrs, err := p.resolver().LookupNetIP(ctx, "ip", host)
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		if err := checkAddr(addr); err != nil {
			return ErrPrivateIP
		}
	}
	return nil
}

func (p TargetPolicy) resolver() Resolver {
	if p.Resolver != nil {
		return p.Resolver
	}
	return net.DefaultResolver
}

// dialControl rejects connections to blocked addresses after DNS has
// resolved, so a name that flips to a private address is still refused.
func (p TargetPolicy) dialControl(_, address string, _ syscall.RawConn) error {
	if p.AllowPrivate {
		return nil
	}
	ap, err := netip.ParseAddrPort(address)
	if err != nil {
		return ErrInvalidURL
	}
	if err := checkAddr(ap.Addr()); err != nil {
		return ErrPrivateIP
	}
	return nil
}

func checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	if addr.IsLoopback() {
		return ErrLocalhostBlocked
	}
	if isBlockedAddr(addr) {
		return ErrPrivateIP
	}
	return nil
}

func isBlockedAddr(addr netip.Addr) bool {
	addr = addr.Unmap()
	if addr.IsUnspecified() || addr.IsMulticast() {
		return true
	}
	for _, p := range blockedPrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func isLocalName(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	return host == "localhost" ||
		strings.HasSuffix(host, ".localhost") ||
		strings.HasSuffix(host, ".local")
}

// ExtractHost returns host[:port] of targetURL for logging. Paths and
// queries may carry tokens and are never logged.
func ExtractHost(targetURL string) string {
	u, err := url.Parse(targetURL)
	if err != nil {
		return "(invalid)"
	}
	return u.Host
}
