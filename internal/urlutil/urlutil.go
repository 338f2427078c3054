package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// JoinPath appends path segments to base, keeping a trailing slash on the
// last segment.
func JoinPath(base string, paths ...string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}

	allPaths := append([]string{u.Path}, paths...)
	u.Path = path.Join(allPaths...)

	if len(paths) > 0 && strings.HasSuffix(paths[len(paths)-1], "/") {
		u.Path += "/"
	}

	return u.String(), nil
}

// IsLocalPath reports whether raw is a path on this host, such as
// "/records?q=x". Scheme-relative and backslash forms are rejected since
// browsers treat them as other hosts.
func IsLocalPath(raw string) bool {
	if !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.HasPrefix(raw, "/\\") {
		return false
	}
	u, err := url.Parse(raw)
	return err == nil && !u.IsAbs() && u.Host == ""
}
