package store

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrInvalidSlug reports a document slug that cannot be mapped to a file
// inside the vault. Callers should use errors.Is(err, ErrInvalidSlug).
var ErrInvalidSlug = errors.New("invalid slug")

// SlugRelPath converts a document slug into a slash-separated relative
// path. Leading and trailing slashes are trimmed; what remains must be
// plain name segments. Empty segments, ".", "..", backslashes, and NUL
// bytes are rejected so a slug can never address a file outside the
// vault.
func SlugRelPath(slug string) (string, error) {
	trimmed := strings.Trim(slug, "/")
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidSlug)
	}

	segments := strings.Split(trimmed, "/")
	for _, segment := range segments {
		if segment == "" || segment == "." || segment == ".." {
			return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
		}

		if strings.ContainsAny(segment, "\\\x00") {
			return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
		}
	}

	return path.Join(segments...), nil
}
