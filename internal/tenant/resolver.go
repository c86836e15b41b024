// Package tenant works out which store a request is for.
package tenant

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"finitefield.org/storefront/internal/platform/httpx"
	"finitefield.org/storefront/internal/platform/requestctx"
)

// HeaderStoreSlug lets a fronting proxy name the store explicitly.
const HeaderStoreSlug = "X-Store-Slug"

// ErrUnknownStore indicates no store could be resolved for a request.
var ErrUnknownStore = errors.New("tenant: unknown store")

var slugPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// Config selects the resolution sources.
type Config struct {
	// DefaultSlug is used when nothing else matches.
	DefaultSlug string
	// RootDomain resolves <slug>.<RootDomain> hosts.
	RootDomain string
	// Hosts maps custom domains to store slugs.
	Hosts map[string]string
}

// Resolver maps requests to store slugs. Precedence: header, custom host,
// subdomain of the root domain, default.
type Resolver struct {
	defaultSlug string
	rootDomain  string
	hosts       map[string]string
}

type hostsFile struct {
	Hosts map[string]string `yaml:"hosts"`
}

// LoadHosts reads a YAML document of the form `hosts: {shop.example.com: acme}`.
func LoadHosts(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tenant: read hosts file: %w", err)
	}
	var doc hostsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("tenant: parse hosts file: %w", err)
	}
	return doc.Hosts, nil
}

// NewResolver validates cfg and builds a resolver.
func NewResolver(cfg Config) (*Resolver, error) {
	r := &Resolver{
		defaultSlug: strings.ToLower(strings.TrimSpace(cfg.DefaultSlug)),
		rootDomain:  strings.Trim(strings.ToLower(strings.TrimSpace(cfg.RootDomain)), "."),
		hosts:       make(map[string]string, len(cfg.Hosts)),
	}
	if r.defaultSlug != "" && !slugPattern.MatchString(r.defaultSlug) {
		return nil, fmt.Errorf("tenant: invalid default slug %q", cfg.DefaultSlug)
	}
	for host, slug := range cfg.Hosts {
		slug = strings.ToLower(strings.TrimSpace(slug))
		if !slugPattern.MatchString(slug) {
			return nil, fmt.Errorf("tenant: invalid slug %q for host %q", slug, host)
		}
		r.hosts[normalizeHost(host)] = slug
	}
	return r, nil
}

// Resolve returns the store slug for req.
func (r *Resolver) Resolve(req *http.Request) (string, error) {
	if slug := strings.ToLower(strings.TrimSpace(req.Header.Get(HeaderStoreSlug))); slug != "" {
		if !slugPattern.MatchString(slug) {
			return "", ErrUnknownStore
		}
		return slug, nil
	}

	host := normalizeHost(req.Host)
	if slug, ok := r.hosts[host]; ok {
		return slug, nil
	}
	if r.rootDomain != "" {
		if sub, ok := strings.CutSuffix(host, "."+r.rootDomain); ok && slugPattern.MatchString(sub) && sub != "www" {
			return sub, nil
		}
	}
	if r.defaultSlug != "" {
		return r.defaultSlug, nil
	}
	return "", ErrUnknownStore
}

// Middleware stores the resolved slug on the request context and rejects
// requests for which no store resolves.
func (r *Resolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		slug, err := r.Resolve(req)
		if err != nil {
			httpx.WriteError(req.Context(), w, httpx.NewError("unknown_store", "no store is configured for this host", http.StatusNotFound))
			return
		}
		next.ServeHTTP(w, req.WithContext(requestctx.WithStoreSlug(req.Context(), slug)))
	})
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.TrimSuffix(host, ".")
}
