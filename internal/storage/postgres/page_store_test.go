package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-search-crawler/internal/crawler"
	"github.com/JakeFAU/realtime-search-crawler/internal/fingerprint"
)

func newMockStore(t *testing.T) (*PageStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	store, err := NewPageStoreWithPool(mock)
	require.NoError(t, err)
	return store, mock
}

func TestSavePageUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	page := crawler.PageRecord{
		URLHash:       "abc",
		URL:           "https://example.com",
		Domain:        "example.com",
		Title:         "Example",
		CanonicalURL:  "https://example.com",
		ContentHash:   "00000000000000ff",
		Language:      "en",
		FirstSeenAt:   now,
		LastCrawledAt: now,
	}

	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			page.URLHash, page.URL, page.Domain, page.Title, page.CanonicalURL, page.ContentHash,
			page.Language, page.ThumbnailURL, page.PageType, page.FirstSeenAt, page.LastCrawledAt,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SavePage(context.Background(), page))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSavePageWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO pages").
		WithArgs(
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
			pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(),
		).
		WillReturnError(errors.New("conn reset"))

	err := store.SavePage(context.Background(), crawler.PageRecord{URLHash: "abc"})
	require.ErrorContains(t, err, "upsert page: conn reset")
	require.Error(t, store.SavePage(context.Background(), crawler.PageRecord{}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFetchLog(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	now := time.Unix(1700000000, 0).UTC()
	entry := crawler.FetchLog{ID: "log-1", URLHash: "abc", FetchTimeMS: 12, HTTPStatus: 200, ResponseSize: 512, CrawledAt: now}

	mock.ExpectExec("INSERT INTO crawl_logs").
		WithArgs(entry.ID, entry.URLHash, entry.FetchTimeMS, entry.HTTPStatus, entry.ResponseSize, entry.CrawledAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveFetchLog(context.Background(), entry))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveLinkEdges(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	edges := []crawler.LinkEdge{
		{SourceURLHash: "a", TargetURLHash: "b", AnchorText: "B"},
		{SourceURLHash: "a", TargetURLHash: "c"},
	}
	mock.ExpectExec("INSERT INTO discovered_links").WithArgs("a", "b", "B").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO discovered_links").WithArgs("a", "c", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.SaveLinkEdges(context.Background(), edges))
	require.NoError(t, store.SaveLinkEdges(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckDuplicateFingerprint(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	fp := fingerprint.Fingerprint(0xabcdef0123456789)

	mock.ExpectQuery("SELECT url_hash").
		WithArgs(fp.String(), "new", 3).
		WillReturnRows(pgxmock.NewRows([]string{"url_hash"}).AddRow("orig"))
	hash, dup, err := store.CheckDuplicateFingerprint(context.Background(), fp, "new", 3)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, "orig", hash)

	mock.ExpectQuery("SELECT url_hash").
		WithArgs(fp.String(), "new", 0).
		WillReturnRows(pgxmock.NewRows([]string{"url_hash"}))
	_, dup, err = store.CheckDuplicateFingerprint(context.Background(), fp, "new", -1)
	require.NoError(t, err)
	assert.False(t, dup)

	_, dup, err = store.CheckDuplicateFingerprint(context.Background(), 0, "new", 64)
	require.NoError(t, err)
	assert.False(t, dup)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListURLHashesAndMigrate(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS pages").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT url_hash FROM pages").
		WillReturnRows(pgxmock.NewRows([]string{"url_hash"}).AddRow("a").AddRow("b"))

	require.NoError(t, store.Migrate(context.Background()))
	hashes, err := store.ListURLHashes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, hashes)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewPageStoreValidates(t *testing.T) {
	t.Parallel()

	_, err := NewPageStore(context.Background(), Config{})
	require.Error(t, err)
	_, err = NewPageStoreWithPool(nil)
	require.Error(t, err)
}
