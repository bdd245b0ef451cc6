package storage

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

const Scheme = "s3"

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.-]{1,61}[a-z0-9]$`)

// ObjectURI is a parsed s3://bucket/key path.
type ObjectURI struct {
	Bucket string
	Key    string
}

func (u ObjectURI) String() string {
	return Scheme + "://" + u.Bucket + "/" + u.Key
}

// IsObjectURI reports whether raw points at the object store rather than the
// local filesystem.
func IsObjectURI(raw string) bool {
	return strings.HasPrefix(strings.TrimSpace(raw), Scheme+"://")
}

func ParseObjectURI(raw string) (ObjectURI, error) {
	raw = strings.TrimSpace(raw)
	parsed, err := url.Parse(raw)
	if err != nil {
		return ObjectURI{}, fmt.Errorf("parse object uri %q: %w", raw, err)
	}
	if parsed.Scheme != Scheme {
		return ObjectURI{}, fmt.Errorf("object uri %q must use the %s:// scheme", raw, Scheme)
	}
	if !bucketPattern.MatchString(parsed.Host) {
		return ObjectURI{}, fmt.Errorf("invalid bucket in object uri %q", raw)
	}
	key := strings.TrimPrefix(parsed.Path, "/")
	if key == "" {
		return ObjectURI{}, fmt.Errorf("object uri %q has no key", raw)
	}
	cleaned := path.Clean(key)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ObjectURI{}, fmt.Errorf("invalid key in object uri %q", raw)
	}
	return ObjectURI{Bucket: parsed.Host, Key: cleaned}, nil
}
