// Package storagekey is the single source of truth for where asset bytes live.
// Every key has the shape
//
//	{scope}/listings/{listingId}/{variant}/{filename}
//
// or, for point-in-time snapshots,
//
//	{scope}/listings/{listingId}/versions/{versionId}/{filename}
//
// Resolution is a pure function of its inputs; the deployment scope is always
// passed in explicitly so the resolver never depends on ambient state.
package storagekey

import (
	"fmt"
	"path"
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/pkg/enums"
)

const listingsSegment = "listings"

// Parsed is the exact inverse of a resolved key.
type Parsed struct {
	Scope     string
	ListingID uuid.UUID
	Variant   enums.VariantKind
	VersionID string
	Filename  string
}

// Resolve maps an asset variant to its storage key.
func Resolve(scope string, listingID uuid.UUID, variant enums.VariantKind, filename string) (string, error) {
	if err := validateScope(scope); err != nil {
		return "", err
	}
	if listingID == uuid.Nil {
		return "", fmt.Errorf("listing id required")
	}
	if variant == enums.VariantVersions {
		return "", fmt.Errorf("versioned keys require ResolveVersion")
	}
	if !variant.IsValid() {
		return "", fmt.Errorf("unknown variant %q", variant)
	}
	clean := SanitizeFilename(filename)
	if clean == "" {
		return "", fmt.Errorf("filename required")
	}
	return strings.Join([]string{scope, listingsSegment, listingID.String(), variant.String(), clean}, "/"), nil
}

// VariantPrefix returns the key prefix holding every object of one variant,
// trailing slash included, for prefix listings against the store.
func VariantPrefix(scope string, listingID uuid.UUID, variant enums.VariantKind) (string, error) {
	if err := validateScope(scope); err != nil {
		return "", err
	}
	if listingID == uuid.Nil {
		return "", fmt.Errorf("listing id required")
	}
	if !variant.IsValid() || variant == enums.VariantVersions {
		return "", fmt.Errorf("unknown variant %q", variant)
	}
	return strings.Join([]string{scope, listingsSegment, listingID.String(), variant.String()}, "/") + "/", nil
}

// ResolveVersion maps a version snapshot to its storage key.
func ResolveVersion(scope string, listingID uuid.UUID, versionID, filename string) (string, error) {
	if err := validateScope(scope); err != nil {
		return "", err
	}
	if listingID == uuid.Nil {
		return "", fmt.Errorf("listing id required")
	}
	if strings.TrimSpace(versionID) == "" || strings.Contains(versionID, "/") {
		return "", fmt.Errorf("invalid version id %q", versionID)
	}
	clean := SanitizeFilename(filename)
	if clean == "" {
		return "", fmt.Errorf("filename required")
	}
	return strings.Join([]string{scope, listingsSegment, listingID.String(), enums.VariantVersions.String(), versionID, clean}, "/"), nil
}

// Parse recovers exactly what Resolve or ResolveVersion was given. Keys that
// do not match the expected shape return an error rather than a guess.
func Parse(key string) (Parsed, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 5 && len(parts) != 6 {
		return Parsed{}, fmt.Errorf("unparseable key %q", key)
	}
	for _, part := range parts {
		if part == "" {
			return Parsed{}, fmt.Errorf("unparseable key %q", key)
		}
	}
	if parts[1] != listingsSegment {
		return Parsed{}, fmt.Errorf("unparseable key %q", key)
	}
	listingID, err := uuid.Parse(parts[2])
	if err != nil {
		return Parsed{}, fmt.Errorf("unparseable key %q: bad listing id", key)
	}

	variant, err := enums.ParseVariantKind(parts[3])
	if err != nil {
		return Parsed{}, fmt.Errorf("unparseable key %q: %w", key, err)
	}

	if variant == enums.VariantVersions {
		if len(parts) != 6 {
			return Parsed{}, fmt.Errorf("unparseable key %q: version id missing", key)
		}
		return Parsed{
			Scope:     parts[0],
			ListingID: listingID,
			Variant:   variant,
			VersionID: parts[4],
			Filename:  parts[5],
		}, nil
	}

	if len(parts) != 5 {
		return Parsed{}, fmt.Errorf("unparseable key %q", key)
	}
	return Parsed{
		Scope:     parts[0],
		ListingID: listingID,
		Variant:   variant,
		Filename:  parts[4],
	}, nil
}

// SanitizeFilename strips path components and characters that would break the
// key shape while keeping the name recognizable for download headers.
func SanitizeFilename(name string) string {
	if name == "" {
		return ""
	}
	clean := path.Base(strings.TrimSpace(name))
	if clean == "." || clean == ".." {
		return ""
	}
	var b strings.Builder
	b.Grow(len(clean))
	for _, r := range clean {
		switch {
		case r == '/' || r == '\\' || unicode.IsControl(r):
			continue
		case unicode.IsSpace(r):
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-_.")
}

func validateScope(scope string) error {
	if strings.TrimSpace(scope) == "" {
		return fmt.Errorf("scope required")
	}
	if strings.Contains(scope, "/") {
		return fmt.Errorf("scope %q must not contain path separators", scope)
	}
	return nil
}
