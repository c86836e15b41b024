package observability

import (
	"net/http"
	"strings"
	"unicode"

	"github.com/oklog/ulid/v2"
)

const (
	defaultStringLimit = 256
	routeLimit         = 180
	storeSlugLimit     = 63
	otherMethod        = "OTHER"
	invalidVisitor     = "invalid"
)

// Methods outside this set collapse into one metrics label.
var knownMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

// sanitizeString drops control and invisible formatting runes and keeps at
// most limit runes.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = defaultStringLimit
	}
	kept := 0
	return strings.Map(func(r rune) rune {
		if kept >= limit || unicode.IsControl(r) || unicode.Is(unicode.Cf, r) {
			return -1
		}
		kept++
		return r
	}, value)
}

// SanitizeRoute cleans a chi route pattern or raw path for logs and labels.
func SanitizeRoute(route string) string {
	if route = sanitizeString(route, routeLimit); route == "" {
		return "/"
	}
	return route
}

// SanitizeMethod returns the upper-cased method, or OTHER for anything that
// is not a standard method.
func SanitizeMethod(method string) string {
	method = strings.ToUpper(strings.TrimSpace(method))
	if _, ok := knownMethods[method]; !ok {
		return otherMethod
	}
	return method
}

// SanitizeVisitorID passes visitor ids through only when they are ULIDs, the
// only ids sessions issue.
func SanitizeVisitorID(id string) string {
	if id == "" {
		return ""
	}
	if _, err := ulid.ParseStrict(id); err != nil {
		return invalidVisitor
	}
	return id
}

// SanitizeStoreSlug lower-cases and bounds a store slug.
func SanitizeStoreSlug(slug string) string {
	return strings.ToLower(sanitizeString(slug, storeSlugLimit))
}
