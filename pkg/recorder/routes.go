package recorder

import (
	"fmt"
	"path"
	"strings"
)

// FormatRoute formats an HTTP method and URL path into a route string
func FormatRoute(method, path string) string {
	return fmt.Sprintf("%s:%s", strings.ToUpper(method), path)
}

// ParseRoute parses a route string into method and path components
func ParseRoute(route string) (method, path string) {
	parts := strings.SplitN(route, ":", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	// If no method specified, assume wildcard
	return "*", route
}

// IsValidRoutePattern reports whether path is a well-formed route pattern
func IsValidRoutePattern(path string) bool {
	if path == "" {
		return false
	}

	if !strings.HasPrefix(path, "/") && path != "*" {
		return false
	}

	// Double wildcards not supported
	if strings.Contains(path, "**") {
		return false
	}

	// Only /* or single * allowed at end
	if strings.HasSuffix(path, "*") && !strings.HasSuffix(path, "/*") && path != "*" {
		return false
	}

	return true
}

// MatchRoute checks if a call route matches a configured route pattern
func MatchRoute(callRoute, configRoute string) bool {
	callMethod, callPath := ParseRoute(callRoute)
	configMethod, configPath := ParseRoute(configRoute)

	// Wildcard "*" matches any method
	if configMethod != "*" && !strings.EqualFold(configMethod, callMethod) {
		return false
	}

	return matchPath(callPath, configPath)
}

func matchPath(callPath, configPath string) bool {
	if configPath == "*" || callPath == configPath {
		return true
	}

	if strings.Contains(configPath, "*") {
		return matchSegmentWildcards(callPath, configPath)
	}

	matched, _ := path.Match(configPath, callPath)
	return matched
}

// matchSegmentWildcards matches "*" against exactly one path segment, except
// for a single trailing "/*" which matches any suffix.
func matchSegmentWildcards(callPath, configPath string) bool {
	configSegments := strings.Split(strings.Trim(configPath, "/"), "/")

	if strings.HasSuffix(configPath, "/*") && strings.Count(configPath, "*") == 1 {
		return strings.HasPrefix(callPath, strings.TrimSuffix(configPath, "*"))
	}

	callSegments := strings.Split(strings.Trim(callPath, "/"), "/")
	if len(callSegments) == 1 && callSegments[0] == "" {
		callSegments = []string{}
	}
	if len(configSegments) == 1 && configSegments[0] == "" {
		configSegments = []string{}
	}

	if len(callSegments) != len(configSegments) {
		return false
	}

	for i, seg := range configSegments {
		if seg != "*" && seg != callSegments[i] {
			return false
		}
	}

	return true
}

// skipList holds the routes that are never recorded.
type skipList struct {
	exact    map[string]bool
	patterns []string
}

func newSkipList(routes []string) skipList {
	s := skipList{exact: make(map[string]bool)}
	for _, route := range routes {
		if strings.Contains(route, "*") || !strings.Contains(route, ":") {
			s.patterns = append(s.patterns, route)
			continue
		}
		method, p := ParseRoute(route)
		s.exact[FormatRoute(method, p)] = true
	}
	return s
}

func (s skipList) skipped(method, urlPath string) bool {
	if len(s.exact) == 0 && len(s.patterns) == 0 {
		return false
	}

	route := FormatRoute(method, urlPath)
	if s.exact[route] {
		return true
	}
	for _, pattern := range s.patterns {
		if MatchRoute(route, pattern) {
			return true
		}
	}
	return false
}
