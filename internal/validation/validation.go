// Package validation checks the untrusted strings loom accepts: browser
// origins on the live endpoint, peer endpoints for relayed invocations and
// the names of template files.
package validation

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// Characters never legitimate in an origin or an endpoint.
var dangerous = []string{";", "|", "`", "$", "(", ")", "<", ">", "\"", "'", "\\", " ", "\n", "\r", "\x00"}

// ValidateOrigin checks a browser Origin header against the allowed hosts.
// An allowed entry is either a host[:port] or a full origin URL; "*"
// allows every http and https origin.
func ValidateOrigin(origin string, allowed []string) error {
	if origin == "" {
		return fmt.Errorf("origin header is required")
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return fmt.Errorf("invalid origin format: %w", err)
	}
	if originURL.Scheme != "http" && originURL.Scheme != "https" {
		return fmt.Errorf("invalid origin scheme '%s': only http and https are allowed", originURL.Scheme)
	}
	if originURL.Host == "" {
		return fmt.Errorf("origin %q has no host", origin)
	}

	for _, a := range allowed {
		if a == "*" || a == origin || a == originURL.Host {
			return nil
		}
		if u, err := url.Parse(a); err == nil && u.Host != "" && u.Host == originURL.Host {
			return nil
		}
	}
	return fmt.Errorf("origin '%s' is not in allowed origins list", origin)
}

// ValidateEndpoint checks the websocket URL of a peer.
func ValidateEndpoint(raw string) error {
	for _, char := range dangerous {
		if strings.Contains(raw, char) {
			return fmt.Errorf("endpoint contains dangerous character: %q", char)
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid endpoint scheme %q: only ws and wss are allowed", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint must have a host")
	}
	if u.User != nil {
		return fmt.Errorf("endpoint must not carry credentials")
	}
	return nil
}

// ValidateFileExtension checks filename against the allowed extensions.
func ValidateFileExtension(filename string, allowedExtensions []string) error {
	if filename == "" {
		return fmt.Errorf("filename cannot be empty")
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return fmt.Errorf("file must have an extension")
	}

	for _, allowed := range allowedExtensions {
		if ext == strings.ToLower(allowed) {
			return nil
		}
	}

	return fmt.Errorf("file extension '%s' is not allowed (allowed: %s)", ext, strings.Join(allowedExtensions, ", "))
}
