package enums

import "fmt"

// QualityTier selects one of the fixed video compression presets.
type QualityTier string

const (
	QualityTierLow    QualityTier = "low"
	QualityTierMedium QualityTier = "medium"
	QualityTierHigh   QualityTier = "high"
)

var validQualityTiers = []QualityTier{
	QualityTierLow,
	QualityTierMedium,
	QualityTierHigh,
}

// String returns the literal string for the tier.
func (q QualityTier) String() string {
	return string(q)
}

// IsValid reports whether the tier is known.
func (q QualityTier) IsValid() bool {
	for _, candidate := range validQualityTiers {
		if candidate == q {
			return true
		}
	}
	return false
}

// ParseQualityTier converts raw input into a QualityTier.
func ParseQualityTier(value string) (QualityTier, error) {
	for _, candidate := range validQualityTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid quality tier %q", value)
}
