// Package manifest defines the cache version tag and the list of assets the
// offline agent pre-caches on install.
package manifest

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultVersion names the current cache generation. Changing it is the only
// way to invalidate previously cached assets.
const DefaultVersion = "path-defender-cache-v1"

// defaultAssets is the shipped app shell. Font binaries are not listed, so
// fonts fall back to the network when offline.
var defaultAssets = []string{
	"/",
	"/index.html",
	"/icons/icon-192x192.png",
	"/icons/icon-512x512.png",
	"https://cdn.tailwindcss.com",
	"https://fonts.googleapis.com/css2?family=Inter:wght@400;700&display=swap",
}

var (
	// ErrEmptyVersion indicates a manifest without a version tag.
	ErrEmptyVersion = errors.New("manifest version is empty")

	// ErrInvalidLocator indicates an asset locator that cannot be cached.
	ErrInvalidLocator = errors.New("invalid asset locator")

	// ErrDuplicateLocator indicates two locators resolving to the same URL.
	ErrDuplicateLocator = errors.New("duplicate asset locator")
)

// Manifest is a cache version tag plus the ordered assets cached under it.
type Manifest struct {
	// Version is used as the cache store name.
	Version string `yaml:"version"`

	// Assets are relative paths (resolved against the agent origin) or
	// absolute http(s) URLs.
	Assets []string `yaml:"assets"`
}

// Default returns the shipped manifest.
func Default() Manifest {
	assets := make([]string, len(defaultAssets))
	copy(assets, defaultAssets)
	return Manifest{
		Version: DefaultVersion,
		Assets:  assets,
	}
}

// Parse decodes a YAML manifest and validates it.
func Parse(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest: %w", err)
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Load reads and parses a YAML manifest file.
func Load(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Validate checks the version tag and that every locator parses.
func (m Manifest) Validate() error {
	if strings.TrimSpace(m.Version) == "" {
		return ErrEmptyVersion
	}
	for _, asset := range m.Assets {
		if _, err := parseLocator(asset); err != nil {
			return err
		}
	}
	return nil
}

// Resolve turns every asset into an absolute URL relative to base. The
// fragment is dropped since it never reaches the network, and a bare host
// gets the path "/" a browser would request.
func (m Manifest) Resolve(base *url.URL) ([]*url.URL, error) {
	if base == nil || !base.IsAbs() {
		return nil, fmt.Errorf("%w: base URL must be absolute", ErrInvalidLocator)
	}

	seen := make(map[string]struct{}, len(m.Assets))
	urls := make([]*url.URL, 0, len(m.Assets))
	for _, asset := range m.Assets {
		ref, err := parseLocator(asset)
		if err != nil {
			return nil, err
		}

		resolved := base.ResolveReference(ref)
		resolved.Fragment = ""
		resolved.RawFragment = ""
		if resolved.Path == "" && resolved.Opaque == "" {
			resolved.Path = "/"
			resolved.RawPath = ""
		}

		key := resolved.String()
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateLocator, key)
		}
		seen[key] = struct{}{}
		urls = append(urls, resolved)
	}
	return urls, nil
}

func parseLocator(asset string) (*url.URL, error) {
	if strings.TrimSpace(asset) == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidLocator)
	}
	u, err := url.Parse(asset)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidLocator, asset, err)
	}
	if u.IsAbs() && u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: %q: unsupported scheme %q", ErrInvalidLocator, asset, u.Scheme)
	}
	return u, nil
}
