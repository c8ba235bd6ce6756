package rag

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"
)

const keySep = ":"

var (
	keyEscaper   = strings.NewReplacer("%", "%25", ":", "%3A")
	keyUnescaper = strings.NewReplacer("%3A", ":", "%25", "%")
)

// NormalizePath converts a repository-relative path to clean '/'-separated
// form. Absolute paths and paths leaving the repository are rejected.
func NormalizePath(rel string) (string, error) {
	p := path.Clean(filepath.ToSlash(rel))
	p = strings.TrimPrefix(p, "./")
	if p == "." || p == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidInput)
	}
	if strings.HasPrefix(p, "/") || p == ".." || strings.HasPrefix(p, "../") {
		return "", fmt.Errorf("%w: path %q is outside the repository", ErrInvalidInput, rel)
	}
	return p, nil
}

// Key derives the record key for a file: the escaped namespace and the
// escaped normalized path joined by ':'. Escaping makes the key injective
// even when either part contains ':'.
func Key(namespace, rel string) (string, error) {
	if namespace == "" {
		return "", fmt.Errorf("%w: empty namespace", ErrInvalidInput)
	}
	p, err := NormalizePath(rel)
	if err != nil {
		return "", err
	}
	return keyEscaper.Replace(namespace) + keySep + keyEscaper.Replace(p), nil
}

// ParseKey splits a key produced by Key back into namespace and path.
func ParseKey(key string) (namespace, p string, err error) {
	ns, rest, ok := strings.Cut(key, keySep)
	if !ok || ns == "" || rest == "" {
		return "", "", fmt.Errorf("%w: malformed key %q", ErrInvalidInput, key)
	}
	return keyUnescaper.Replace(ns), keyUnescaper.Replace(rest), nil
}
