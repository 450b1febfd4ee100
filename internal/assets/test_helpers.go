package assets

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/estatelink/estatelink-backend/pkg/config"
	"github.com/estatelink/estatelink-backend/pkg/db"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
)

const listingsDDL = `
CREATE TABLE listings (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	slug TEXT NOT NULL UNIQUE,
	address TEXT,
	city TEXT,
	price_cents INTEGER NOT NULL DEFAULT 0,
	status TEXT NOT NULL DEFAULT 'draft',
	created_at DATETIME,
	updated_at DATETIME
)`

const assetsDDL = `
CREATE TABLE assets (
	id TEXT PRIMARY KEY,
	listing_id TEXT NOT NULL,
	stored_filename TEXT NOT NULL,
	original_filename TEXT NOT NULL,
	current_url TEXT NOT NULL,
	original_url TEXT,
	role TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	size_bytes INTEGER NOT NULL,
	is_main INTEGER NOT NULL DEFAULT 0,
	sort_order INTEGER NOT NULL DEFAULT 0,
	lock_version INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME
)`

func openTestDB(t *testing.T) *db.Client {
	t.Helper()
	client, err := db.New(context.Background(), config.DBConfig{
		DSN:    "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		Driver: "sqlite",
	}, nil)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	for _, ddl := range []string{listingsDDL, assetsDDL} {
		if err := client.Exec(context.Background(), ddl).Error; err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return client
}

func mustCreateListing(t *testing.T, conn *gorm.DB) *models.Listing {
	t.Helper()
	listing := &models.Listing{
		ID:     uuid.New(),
		Title:  "Maple Street Duplex",
		Slug:   "maple-street-" + uuid.NewString(),
		City:   "Austin",
		Status: enums.ListingStatusDraft,
	}
	if err := conn.Create(listing).Error; err != nil {
		t.Fatalf("create listing: %v", err)
	}
	return listing
}

func mustCreateAsset(t *testing.T, conn *gorm.DB, listingID uuid.UUID, mutate func(*models.Asset)) *models.Asset {
	t.Helper()
	asset := &models.Asset{
		ID:               uuid.New(),
		ListingID:        listingID,
		StoredFilename:   "ab12cd34-front.jpg",
		OriginalFilename: "front.jpg",
		CurrentURL:       "https://cdn.example.com/scope/listings/x/original/ab12cd34-front.jpg",
		Role:             enums.AssetRoleImage,
		MimeType:         "image/jpeg",
		SizeBytes:        2048,
	}
	if mutate != nil {
		mutate(asset)
	}
	if err := conn.Create(asset).Error; err != nil {
		t.Fatalf("create asset: %v", err)
	}
	return asset
}

type stubStore struct {
	objects   map[string][]byte
	putErr    error
	deleteErr map[string]error
	listErr   error
	deleted   []string
	baseURL   string
}

func newStubStore() *stubStore {
	return &stubStore{
		objects:   map[string][]byte{},
		deleteErr: map[string]error{},
		baseURL:   "https://cdn.example.com",
	}
}

func (s *stubStore) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[key] = data
	return s.baseURL + "/" + key, nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	s.deleted = append(s.deleted, key)
	if err, ok := s.deleteErr[key]; ok {
		return err
	}
	delete(s.objects, key)
	return nil
}

func (s *stubStore) List(_ context.Context, prefix string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *stubStore) KeyForURL(rawURL string) (string, bool) {
	prefix := s.baseURL + "/"
	if len(rawURL) > len(prefix) && rawURL[:len(prefix)] == prefix {
		return rawURL[len(prefix):], true
	}
	return "", false
}

type stubListings struct {
	exists bool
	err    error
}

func (s *stubListings) Exists(context.Context, uuid.UUID) (bool, error) {
	return s.exists, s.err
}

var errUnreachable = errors.New("dial tcp: connection refused")
