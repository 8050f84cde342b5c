package artifact

import (
	"os"
	"strings"
)

// DefaultPrefix names artifacts when no prefix is given.
const DefaultPrefix = "model"

// Location addresses the pair of artifacts saved for one model:
// {Base}/{Prefix}.tensors and {Base}/{Prefix}-config.json. Base is a local
// directory or a storage URI such as s3://bucket/models.
type Location struct {
	Base   string
	Prefix string
}

// NewLocation trims trailing separators from base and defaults the prefix.
func NewLocation(base, prefix string) Location {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Location{Base: normalizeBase(base), Prefix: prefix}
}

// ParseLocation splits "base/prefix" at the last separator. A bare name is
// a prefix in the current directory.
func ParseLocation(s string) Location {
	s = normalizeBase(s)
	if i := strings.LastIndexAny(s, "/"+string(os.PathSeparator)); i >= 0 && !strings.HasSuffix(s[:i+1], "://") {
		base := s[:i]
		if base == "" {
			base = s[:1]
		}
		return NewLocation(base, s[i+1:])
	}
	if strings.Contains(s, "://") {
		return NewLocation(s, "")
	}
	return NewLocation(".", s)
}

func normalizeBase(base string) string {
	trimmed := strings.TrimRight(base, "/"+string(os.PathSeparator))
	switch {
	case trimmed == "" && base != "":
		return base[:1]
	case strings.HasSuffix(trimmed, ":") && strings.HasSuffix(base, "://"):
		return base
	}
	return trimmed
}

func (l Location) join(name string) string {
	switch {
	case l.Base == "":
		return name
	case strings.HasSuffix(l.Base, "/") || strings.HasSuffix(l.Base, string(os.PathSeparator)):
		return l.Base + name
	}
	return l.Base + "/" + name
}

func (l Location) prefix() string {
	if l.Prefix == "" {
		return DefaultPrefix
	}
	return l.Prefix
}

// ConfigPath is the location of the JSON config sidecar.
func (l Location) ConfigPath() string { return l.join(l.prefix() + "-config.json") }

// TensorPath is the location of the tensor artifact.
func (l Location) TensorPath() string { return l.join(l.prefix() + ".tensors") }

func (l Location) String() string { return l.join(l.prefix()) }
