package assets

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/estatelink/estatelink-backend/pkg/db"
	"github.com/estatelink/estatelink-backend/pkg/db/models"
	"github.com/estatelink/estatelink-backend/pkg/enums"
	pkgerrors "github.com/estatelink/estatelink-backend/pkg/errors"
	"github.com/estatelink/estatelink-backend/pkg/logger"
)

// Tiny valid headers so content sniffing classifies uploads.
var (
	jpegBytes = append([]byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 0x4A, 0x46, 0x49, 0x46, 0x00}, make([]byte, 64)...)
	pngBytes  = append([]byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 64)...)
)

func newTestService(t *testing.T, client *db.Client, store *stubStore) Service {
	t.Helper()
	svc, err := NewService(
		client,
		NewRepository(client.DB()),
		store,
		&stubListings{exists: true},
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		32*1024*1024,
	)
	require.NoError(t, err)
	return svc
}

func TestUploadStoresObjectAndRow(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "listing-images", listing.ID, UploadInput{
		Filename: "Front Door.jpg",
		Data:     jpegBytes,
	})
	require.NoError(t, err)

	require.Equal(t, enums.AssetRoleImage, asset.Role)
	require.Equal(t, "image/jpeg", asset.MimeType)
	require.Equal(t, int64(len(jpegBytes)), asset.SizeBytes)
	require.Nil(t, asset.OriginalURL)
	require.Equal(t, "Front Door.jpg", asset.OriginalFilename)
	require.Contains(t, asset.StoredFilename, "Front-Door.jpg")

	wantKeyPart := "listing-images/listings/" + listing.ID.String() + "/original/"
	require.Contains(t, asset.CurrentURL, wantKeyPart)
	require.Len(t, store.objects, 1)

	stored, err := svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, asset.CurrentURL, stored.CurrentURL)
	require.Equal(t, 0, stored.SortOrder)
}

func TestUploadAssignsNextSortOrder(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	first, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)
	second, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "b.png", Data: pngBytes})
	require.NoError(t, err)

	require.Equal(t, 0, first.SortOrder)
	require.Equal(t, 1, second.SortOrder)
}

func TestUploadAsMainDemotesPrevious(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	first, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes, IsMain: true})
	require.NoError(t, err)
	second, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "b.png", Data: pngBytes, IsMain: true})
	require.NoError(t, err)

	rows, err := svc.ListByListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	mainCount := 0
	for _, row := range rows {
		if row.IsMain {
			mainCount++
			require.Equal(t, second.ID, row.ID)
		}
	}
	require.Equal(t, 1, mainCount)
	_ = first
}

func TestUploadRejectsOversizeAndEmpty(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()
	listing := mustCreateListing(t, client.DB())

	_, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: nil})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	huge := make([]byte, 33*1024*1024)
	copy(huge, jpegBytes)
	_, err = svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: huge})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestUploadUnknownListing(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc, err := NewService(
		client,
		NewRepository(client.DB()),
		newStubStore(),
		&stubListings{exists: false},
		logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		1024,
	)
	require.NoError(t, err)

	_, err = svc.Upload(context.Background(), "s", uuid.New(), UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestUploadCleansUpObjectWhenRowFails(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())

	// Dropping the table makes the insert fail after the object landed.
	require.NoError(t, client.Exec(ctx, "DROP TABLE assets").Error)

	_, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.Error(t, err)
	require.Empty(t, store.objects)
}

func TestApplyEditSnapshotsOriginalOnce(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)
	uploadURL := asset.CurrentURL

	edited, err := svc.ApplyEdit(ctx, asset.ID, "https://cdn.example.com/s/edit-one.jpg", asset.LockVersion)
	require.NoError(t, err)
	require.NotNil(t, edited.OriginalURL)
	require.Equal(t, uploadURL, *edited.OriginalURL)
	require.Equal(t, "https://cdn.example.com/s/edit-one.jpg", edited.CurrentURL)

	// A second edit must not overwrite the preserved original.
	edited, err = svc.ApplyEdit(ctx, asset.ID, "https://cdn.example.com/s/edit-two.jpg", edited.LockVersion)
	require.NoError(t, err)
	require.Equal(t, uploadURL, *edited.OriginalURL)
	require.Equal(t, "https://cdn.example.com/s/edit-two.jpg", edited.CurrentURL)
}

func TestApplyEditConcurrentModification(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)

	// This writer reads the row, then another edit commits first.
	observedVersion := asset.LockVersion

	repo := NewRepository(client.DB())
	loaded, err := repo.FindByID(ctx, asset.ID)
	require.NoError(t, err)
	loaded.CurrentURL = "https://cdn.example.com/s/raced.jpg"
	require.NoError(t, repo.UpdateCurrent(ctx, loaded))

	stale := &models.Asset{ID: asset.ID, CurrentURL: "x", LockVersion: observedVersion}
	err = repo.UpdateCurrent(ctx, stale)
	require.ErrorIs(t, err, ErrStale)

	// The stale edit is rejected instead of overwriting the raced one.
	_, err = svc.ApplyEdit(ctx, asset.ID, "https://cdn.example.com/s/after-race.jpg", observedVersion)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeConcurrentModification))

	kept, err := svc.Get(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, "https://cdn.example.com/s/raced.jpg", kept.CurrentURL)

	// Retrying with the fresh version succeeds.
	_, err = svc.ApplyEdit(ctx, asset.ID, "https://cdn.example.com/s/after-race.jpg", kept.LockVersion)
	require.NoError(t, err)
}

func TestRevertRestoresOriginal(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)
	uploadURL := asset.CurrentURL

	_, err = svc.ApplyEdit(ctx, asset.ID, "https://cdn.example.com/s/edited.jpg", asset.LockVersion)
	require.NoError(t, err)

	reverted, err := svc.Revert(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, uploadURL, reverted.CurrentURL)
	require.NotNil(t, reverted.OriginalURL)

	// Idempotent: reverting again changes nothing and still succeeds.
	again, err := svc.Revert(ctx, asset.ID)
	require.NoError(t, err)
	require.Equal(t, uploadURL, again.CurrentURL)
	require.Equal(t, reverted.LockVersion, again.LockVersion)
}

func TestRevertNeverEdited(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)

	_, err = svc.Revert(ctx, asset.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotRevertible))
}

func TestSetMainMovesFlagAtomically(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	first, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes, IsMain: true})
	require.NoError(t, err)
	second, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "b.png", Data: pngBytes})
	require.NoError(t, err)

	require.NoError(t, svc.SetMain(ctx, listing.ID, second.ID))

	rows, err := svc.ListByListing(ctx, listing.ID)
	require.NoError(t, err)
	for _, row := range rows {
		switch row.ID {
		case first.ID:
			require.False(t, row.IsMain)
		case second.ID:
			require.True(t, row.IsMain)
		}
	}
}

func TestSetMainRejectsForeignAsset(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listingA := mustCreateListing(t, client.DB())
	listingB := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listingA.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)

	err = svc.SetMain(ctx, listingB.ID, asset.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))

	err = svc.SetMain(ctx, listingA.ID, uuid.New())
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestReorderRewritesDensely(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	a, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)
	b, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "b.png", Data: pngBytes})
	require.NoError(t, err)
	c, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "c.jpg", Data: jpegBytes})
	require.NoError(t, err)

	require.NoError(t, svc.Reorder(ctx, listing.ID, []uuid.UUID{c.ID, a.ID, b.ID}))

	rows, err := svc.ListByListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{c.ID, a.ID, b.ID}, []uuid.UUID{rows[0].ID, rows[1].ID, rows[2].ID})
	require.Equal(t, []int{0, 1, 2}, []int{rows[0].SortOrder, rows[1].SortOrder, rows[2].SortOrder})
}

func TestReorderRejectsBadSets(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	svc := newTestService(t, client, newStubStore())
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	a, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "a.jpg", Data: jpegBytes})
	require.NoError(t, err)
	b, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "b.png", Data: pngBytes})
	require.NoError(t, err)

	cases := map[string][]uuid.UUID{
		"missing id":    {a.ID},
		"duplicate id":  {a.ID, a.ID},
		"foreign id":    {a.ID, uuid.New()},
		"extra entries": {a.ID, b.ID, uuid.New()},
	}
	for name, ids := range cases {
		err := svc.Reorder(ctx, listing.ID, ids)
		require.Truef(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation), "%s: %v", name, err)
	}

	// Rejection leaves the stored order untouched.
	rows, err := svc.ListByListing(ctx, listing.ID)
	require.NoError(t, err)
	require.Equal(t, a.ID, rows[0].ID)
	require.Equal(t, b.ID, rows[1].ID)
}

func TestDeleteSweepsVariantsAndRow(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "tour.jpg", Data: jpegBytes})
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, "s", asset.ID))

	_, err = svc.Get(ctx, asset.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
	require.Empty(t, store.objects)

	// The sweep covers the derived variant keys too.
	joined := strings.Join(store.deleted, "\n")
	require.Contains(t, joined, "/original/")
	require.Contains(t, joined, "/thumbnail/")
	require.Contains(t, joined, "/compressed-low/")
	require.Contains(t, joined, "/compressed-medium/")
	require.Contains(t, joined, "/compressed-high/")
}

func TestDeleteSweepsSupersededEditObjects(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "tour.jpg", Data: jpegBytes})
	require.NoError(t, err)

	// Three generations of edits, each under a fresh version token. Only
	// the newest is still referenced by CurrentURL.
	editedPrefix := "s/listings/" + listing.ID.String() + "/edited/"
	for _, token := range []string{"aaaa", "bbbb", "cccc"} {
		store.objects[editedPrefix+token+"-"+asset.StoredFilename] = []byte("edit")
	}
	_, err = svc.ApplyEdit(ctx, asset.ID, store.baseURL+"/"+editedPrefix+"cccc-"+asset.StoredFilename, asset.LockVersion)
	require.NoError(t, err)

	// A sibling asset's edit in the same listing must survive the sweep.
	siblingKey := editedPrefix + "dddd-other.jpg"
	store.objects[siblingKey] = []byte("sibling")

	require.NoError(t, svc.Delete(ctx, "s", asset.ID))

	for _, token := range []string{"aaaa", "bbbb", "cccc"} {
		require.NotContains(t, store.objects, editedPrefix+token+"-"+asset.StoredFilename)
	}
	require.Contains(t, store.objects, siblingKey)
}

func TestDeleteProceedsWhenListingFails(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "tour.jpg", Data: jpegBytes})
	require.NoError(t, err)

	// A failed prefix listing degrades to the deterministic key sweep.
	store.listErr = errUnreachable
	require.NoError(t, svc.Delete(ctx, "s", asset.ID))

	_, err = svc.Get(ctx, asset.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}

func TestDeleteKeepsRowWhenStoreUnreachable(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "tour.jpg", Data: jpegBytes})
	require.NoError(t, err)

	// Every delete fails with a connectivity error.
	for _, key := range variantObjectKeys("s", asset, store.KeyForURL) {
		store.deleteErr[key] = errUnreachable
	}

	err = svc.Delete(ctx, "s", asset.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeStorage))

	// The row survives for a retry.
	_, err = svc.Get(ctx, asset.ID)
	require.NoError(t, err)
}

func TestDeleteToleratesPartialFailures(t *testing.T) {
	t.Parallel()

	client := openTestDB(t)
	store := newStubStore()
	svc := newTestService(t, client, store)
	ctx := context.Background()

	listing := mustCreateListing(t, client.DB())
	asset, err := svc.Upload(ctx, "s", listing.ID, UploadInput{Filename: "tour.jpg", Data: jpegBytes})
	require.NoError(t, err)

	keys := variantObjectKeys("s", asset, store.KeyForURL)
	require.NotEmpty(t, keys)
	store.deleteErr[keys[len(keys)-1]] = errUnreachable

	require.NoError(t, svc.Delete(ctx, "s", asset.ID))

	_, err = svc.Get(ctx, asset.ID)
	require.True(t, pkgerrors.HasCode(err, pkgerrors.CodeNotFound))
}
