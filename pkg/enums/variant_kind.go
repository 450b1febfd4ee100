package enums

import "fmt"

// VariantKind names a derived, disposable representation of an asset.
// Variants are a storage-key convention, not catalogue rows.
type VariantKind string

const (
	VariantOriginal   VariantKind = "original"
	VariantThumbnail  VariantKind = "thumbnail"
	VariantEdited     VariantKind = "edited"
	VariantAIEnhanced VariantKind = "ai-enhanced"
	VariantVersions   VariantKind = "versions"
)

// CompressedVariant names the variant folder for a quality tier.
func CompressedVariant(tier QualityTier) VariantKind {
	return VariantKind("compressed-" + tier.String())
}

var validVariantKinds = []VariantKind{
	VariantOriginal,
	VariantThumbnail,
	VariantEdited,
	VariantAIEnhanced,
	VariantVersions,
	CompressedVariant(QualityTierLow),
	CompressedVariant(QualityTierMedium),
	CompressedVariant(QualityTierHigh),
}

// String returns the literal string for the variant kind.
func (v VariantKind) String() string {
	return string(v)
}

// IsValid reports whether the variant kind is known.
func (v VariantKind) IsValid() bool {
	for _, candidate := range validVariantKinds {
		if candidate == v {
			return true
		}
	}
	return false
}

// ParseVariantKind converts raw input into a VariantKind.
func ParseVariantKind(value string) (VariantKind, error) {
	for _, candidate := range validVariantKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid variant kind %q", value)
}
