// Package horosafe holds the path and URL checks applied to untrusted
// input: report download paths, configured endpoints and the page URLs
// that search models and tools hand back.
package horosafe

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"path/filepath"
	"strings"
)

// ErrPathTraversal is returned when a user-supplied path escapes its base.
var ErrPathTraversal = errors.New("horosafe: path traversal detected")

// ErrSSRF is returned when a URL targets a private or loopback address.
var ErrSSRF = errors.New("horosafe: URL targets a private or loopback address")

// ErrUnsafeScheme is returned when a URL uses a non-HTTP(S) scheme.
var ErrUnsafeScheme = errors.New("horosafe: only http and https schemes are allowed")

// SafePath validates that joining base and userInput does not escape base.
// Returns the cleaned path or ErrPathTraversal.
func SafePath(base, userInput string) (string, error) {
	if strings.Contains(userInput, "..") {
		return "", ErrPathTraversal
	}
	cleaned := filepath.Join(base, filepath.Clean("/"+userInput))
	if !strings.HasPrefix(cleaned, filepath.Clean(base)+string(filepath.Separator)) &&
		cleaned != filepath.Clean(base) {
		return "", ErrPathTraversal
	}
	return cleaned, nil
}

// ReportFile maps a requested report path onto dir. Only the base name of
// requested is kept; it must look like report_<id><ext>.
func ReportFile(dir, requested, ext string) (string, error) {
	name := filepath.Base(filepath.Clean("/" + requested))
	if !strings.HasPrefix(name, "report_") || !strings.HasSuffix(name, ext) {
		return "", fmt.Errorf("horosafe: %q is not a report file", requested)
	}
	if err := ValidateIdentifier(name); err != nil {
		return "", err
	}
	return SafePath(dir, name)
}

// ValidateEndpoint checks that rawURL is an absolute http(s) URL with a host.
// No DNS lookup is done: endpoints are operator configuration.
func ValidateEndpoint(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("horosafe: invalid URL: %w", err)
	}
	if s := strings.ToLower(u.Scheme); s != "http" && s != "https" {
		return ErrUnsafeScheme
	}
	if u.Hostname() == "" {
		return fmt.Errorf("horosafe: URL %q has no host", rawURL)
	}
	return nil
}

// ValidateURL checks that rawURL is http(s), has a host, and does not
// point at a loopback, private, link-local or unspecified address. Host
// names are resolved and every address is checked; a failed lookup passes,
// the connection will fail on its own.
func ValidateURL(rawURL string) error {
	if err := ValidateEndpoint(rawURL); err != nil {
		return err
	}
	u, _ := url.Parse(rawURL)
	host := u.Hostname()

	if ip, err := netip.ParseAddr(host); err == nil {
		if isPrivate(ip) {
			return ErrSSRF
		}
		return nil
	}
	addrs, err := net.LookupHost(host)
	if err != nil {
		return nil
	}
	for _, a := range addrs {
		if ip, err := netip.ParseAddr(a); err == nil && isPrivate(ip) {
			return ErrSSRF
		}
	}
	return nil
}

var privatePrefixes = []netip.Prefix{
	netip.MustParsePrefix("100.64.0.0/10"), // carrier-grade NAT
	netip.MustParsePrefix("169.254.0.0/16"),
}

func isPrivate(ip netip.Addr) bool {
	ip = ip.Unmap()
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, p := range privatePrefixes {
		if p.Contains(ip) {
			return true
		}
	}
	return false
}

// ValidateIdentifier rejects identifiers that contain characters unsuitable
// for file names. Allows alphanumeric, underscore, hyphen, and dot.
func ValidateIdentifier(s string) error {
	if s == "" {
		return fmt.Errorf("horosafe: identifier must not be empty")
	}
	if len(s) > 256 {
		return fmt.Errorf("horosafe: identifier too long (max 256)")
	}
	for _, r := range s {
		if !isIdentChar(r) {
			return fmt.Errorf("horosafe: invalid character %q in identifier", r)
		}
	}
	return nil
}

func isIdentChar(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.'
}
