package storagekey

import (
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/estatelink/estatelink-backend/pkg/enums"
)

func TestResolveParseRoundTrip(t *testing.T) {
	t.Parallel()

	listingID := uuid.New()
	variants := []enums.VariantKind{
		enums.VariantOriginal,
		enums.VariantThumbnail,
		enums.VariantEdited,
		enums.VariantAIEnhanced,
		enums.CompressedVariant(enums.QualityTierLow),
		enums.CompressedVariant(enums.QualityTierMedium),
		enums.CompressedVariant(enums.QualityTierHigh),
	}

	for _, variant := range variants {
		key, err := Resolve("production", listingID, variant, "tour.mp4")
		if err != nil {
			t.Fatalf("Resolve(%s): %v", variant, err)
		}
		parsed, err := Parse(key)
		if err != nil {
			t.Fatalf("Parse(%s): %v", key, err)
		}
		if parsed.Scope != "production" || parsed.ListingID != listingID || parsed.Variant != variant || parsed.Filename != "tour.mp4" {
			t.Fatalf("round trip mismatch for %s: %+v", key, parsed)
		}
		if parsed.VersionID != "" {
			t.Fatalf("non-versioned key should have empty version id, got %q", parsed.VersionID)
		}
	}
}

func TestVariantPrefixCoversResolvedKeys(t *testing.T) {
	t.Parallel()

	listingID := uuid.New()
	prefix, err := VariantPrefix("production", listingID, enums.VariantEdited)
	if err != nil {
		t.Fatalf("VariantPrefix: %v", err)
	}
	if prefix != "production/listings/"+listingID.String()+"/edited/" {
		t.Fatalf("prefix = %q", prefix)
	}

	key, err := Resolve("production", listingID, enums.VariantEdited, "a1b2-tour.jpg")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if key != prefix+"a1b2-tour.jpg" {
		t.Fatalf("key %q not under prefix %q", key, prefix)
	}

	if _, err := VariantPrefix("", listingID, enums.VariantEdited); err == nil {
		t.Fatal("expected error for empty scope")
	}
	if _, err := VariantPrefix("production", uuid.Nil, enums.VariantEdited); err == nil {
		t.Fatal("expected error for nil listing id")
	}
	if _, err := VariantPrefix("production", listingID, enums.VariantVersions); err == nil {
		t.Fatal("expected error for versions variant")
	}
}

func TestResolveVersionRoundTrip(t *testing.T) {
	t.Parallel()

	listingID := uuid.New()
	versionID := GenerateVersionID()
	key, err := ResolveVersion("staging", listingID, versionID, "hero.jpg")
	if err != nil {
		t.Fatalf("ResolveVersion: %v", err)
	}
	parsed, err := Parse(key)
	if err != nil {
		t.Fatalf("Parse(%s): %v", key, err)
	}
	if parsed.Variant != enums.VariantVersions {
		t.Fatalf("expected versions variant, got %s", parsed.Variant)
	}
	if parsed.VersionID != versionID || parsed.Filename != "hero.jpg" {
		t.Fatalf("round trip mismatch: %+v", parsed)
	}
}

func TestResolveRejectsBadInput(t *testing.T) {
	t.Parallel()

	listingID := uuid.New()

	if _, err := Resolve("", listingID, enums.VariantOriginal, "a.jpg"); err == nil {
		t.Fatal("expected error for empty scope")
	}
	if _, err := Resolve("pro/duction", listingID, enums.VariantOriginal, "a.jpg"); err == nil {
		t.Fatal("expected error for scope with separator")
	}
	if _, err := Resolve("production", uuid.Nil, enums.VariantOriginal, "a.jpg"); err == nil {
		t.Fatal("expected error for nil listing id")
	}
	if _, err := Resolve("production", listingID, enums.VariantVersions, "a.jpg"); err == nil {
		t.Fatal("expected error for versions variant without version id")
	}
	if _, err := Resolve("production", listingID, enums.VariantKind("banner"), "a.jpg"); err == nil {
		t.Fatal("expected error for unknown variant")
	}
	if _, err := Resolve("production", listingID, enums.VariantOriginal, "   "); err == nil {
		t.Fatal("expected error for blank filename")
	}
}

func TestParseRejectsForeignKeys(t *testing.T) {
	t.Parallel()

	cases := []string{
		"",
		"production",
		"production/listings",
		"production/other/5f/original/a.jpg",
		"production/listings/not-a-uuid/original/a.jpg",
		"production/listings/" + uuid.NewString() + "/banner/a.jpg",
		"production/listings/" + uuid.NewString() + "/versions/a.jpg",
		"production/listings/" + uuid.NewString() + "/original/a.jpg/extra",
		"production//" + uuid.NewString() + "/original/a.jpg",
	}
	for _, key := range cases {
		if _, err := Parse(key); err == nil {
			t.Fatalf("expected %q to be unparseable", key)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"photo.png":          "photo.png",
		"  front door .jpg ": "front-door-.jpg",
		"../../etc/passwd":   "passwd",
		"a\\b.png":           "ab.png",
		"..":                 "",
	}
	for in, want := range cases {
		if got := SanitizeFilename(in); got != want {
			t.Fatalf("SanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateVersionIDOrdering(t *testing.T) {
	t.Parallel()

	ids := make([]string, 0, 5)
	for i := 0; i < 5; i++ {
		ids = append(ids, GenerateVersionID())
		time.Sleep(2 * time.Nanosecond)
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	for i := range ids {
		if ids[i] != sorted[i] {
			t.Fatalf("version ids not time-ordered: %v", ids)
		}
	}
	seen := map[string]struct{}{}
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate version id %s", id)
		}
		seen[id] = struct{}{}
	}
}
