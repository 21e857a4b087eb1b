// Package identifier parses versioned document identifiers in both the
// legacy archive/YYMMNNN scheme and the modern YYMM.NNNNN scheme.
package identifier

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
)

// ModernArchive is the archive name every modern-scheme identifier resolves to.
const ModernArchive = "arxiv"

// ErrInvalid indicates a string that is not a recognizable identifier.
var ErrInvalid = errors.New("invalid identifier")

var (
	modernPattern = regexp.MustCompile(`^(\d{2})(\d{2})\.(\d{4,5})(?:v(\d+))?$`)
	legacyPattern = regexp.MustCompile(`^([a-z][a-z-]*)(?:\.[A-Za-z-]+)?/(\d{2})(\d{2})(\d{3})(?:v(\d+))?$`)
)

// Identifier is an immutable, parsed document identifier.
// Two identifiers are equal when their ID and Version match.
type Identifier struct {
	// ID is the base identifier without a version suffix.
	ID string
	// Version is zero when the parsed string carried no version.
	Version int
	// Legacy reports the archive/YYMMNNN scheme.
	Legacy    bool
	Archive   string
	YearMonth string
	// Filename is the base filename used for on-disk paths.
	Filename string
}

// Parse decodes s, which may carry a trailing vN version suffix.
func Parse(s string) (Identifier, error) {
	if m := modernPattern.FindStringSubmatch(s); m != nil {
		if err := validMonth(m[2]); err != nil {
			return Identifier{}, fmt.Errorf("%w: %q: %w", ErrInvalid, s, err)
		}
		id := m[1] + m[2] + "." + m[3]
		version, err := parseVersion(m[4])
		if err != nil {
			return Identifier{}, fmt.Errorf("%w: %q: %w", ErrInvalid, s, err)
		}
		return Identifier{
			ID:        id,
			Version:   version,
			Archive:   ModernArchive,
			YearMonth: m[1] + m[2],
			Filename:  id,
		}, nil
	}

	if m := legacyPattern.FindStringSubmatch(s); m != nil {
		if err := validMonth(m[3]); err != nil {
			return Identifier{}, fmt.Errorf("%w: %q: %w", ErrInvalid, s, err)
		}
		version, err := parseVersion(m[5])
		if err != nil {
			return Identifier{}, fmt.Errorf("%w: %q: %w", ErrInvalid, s, err)
		}
		base := s
		if m[5] != "" {
			base = s[:len(s)-len(m[5])-1]
		}
		return Identifier{
			ID:        base,
			Version:   version,
			Legacy:    true,
			Archive:   m[1],
			YearMonth: m[2] + m[3],
			Filename:  m[2] + m[3] + m[4],
		}, nil
	}

	return Identifier{}, fmt.Errorf("%w: %q", ErrInvalid, s)
}

// WithVersion returns a copy of id carrying version v.
func (id Identifier) WithVersion(v int) Identifier {
	id.Version = v
	return id
}

// HasVersion reports whether the identifier carries a version.
func (id Identifier) HasVersion() bool {
	return id.Version > 0
}

// IDV returns the identifier with its version suffix, or the bare ID when unversioned.
func (id Identifier) IDV() string {
	if !id.HasVersion() {
		return id.ID
	}
	return id.ID + "v" + strconv.Itoa(id.Version)
}

// PathArchive returns the archive directory used for on-disk paths:
// the identifier's own archive for the legacy scheme, ModernArchive otherwise.
func (id Identifier) PathArchive() string {
	if id.Legacy {
		return id.Archive
	}
	return ModernArchive
}

func (id Identifier) String() string {
	return id.IDV()
}

func parseVersion(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if v < 1 {
		return 0, fmt.Errorf("version must be at least 1, got %d", v)
	}
	return v, nil
}

func validMonth(mm string) error {
	n, _ := strconv.Atoi(mm)
	if n < 1 || n > 12 {
		return fmt.Errorf("month out of range: %s", mm)
	}
	return nil
}
