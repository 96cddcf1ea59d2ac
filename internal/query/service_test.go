package query

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jobtrace/jobtrace-api/internal/config"
	"github.com/jobtrace/jobtrace-api/internal/models"
	"github.com/jobtrace/jobtrace-api/internal/repository"
)

type fakeRepo struct {
	repository.ExecutionRepository

	searchFn      func(ctx context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error)
	longRunningFn func(ctx context.Context, runningFor time.Duration, limit, offset int) ([]models.JobExecution, int, error)
}

func (f *fakeRepo) Search(ctx context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
	return f.searchFn(ctx, q)
}

func (f *fakeRepo) ListLongRunning(ctx context.Context, runningFor time.Duration, limit, offset int) ([]models.JobExecution, int, error) {
	return f.longRunningFn(ctx, runningFor, limit, offset)
}

// memoryCache is a map-backed Cache so cache hits are observable in tests.
type memoryCache struct {
	entries map[string][]byte
	gets    int
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: map[string][]byte{}}
}

func (c *memoryCache) Get(_ context.Context, key string, dest interface{}) bool {
	c.gets++
	raw, ok := c.entries[key]
	if !ok {
		return false
	}
	c.hits++
	return json.Unmarshal(raw, dest) == nil
}

func (c *memoryCache) Set(_ context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.entries[key] = raw
}

type nilPolicy struct{}

func (nilPolicy) SLASeconds(string) *float64     { return nil }
func (nilPolicy) TimeoutSeconds(string) *float64 { return nil }

var testConfig = config.QueryConfig{
	DefaultLimit:       50,
	MaxLimit:           200,
	LongRunningMinutes: 60,
	CacheTTL:           5 * time.Second,
}

func execList(n int) []models.JobExecution {
	list := make([]models.JobExecution, n)
	for i := range list {
		list[i] = models.JobExecution{ID: string(rune('a' + i)), ExecutionStatus: models.StatusSuccess}
	}
	return list
}

func TestPaginationClamping(t *testing.T) {
	var captured repository.SearchQuery
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			captured = q
			return []models.JobExecution{}, 0, nil
		},
	}
	svc := NewService(repo, newMemoryCache(), nilPolicy{}, testConfig, zerolog.Nop())

	cases := []struct {
		name       string
		opts       Options
		wantLimit  int
		wantOffset int
	}{
		{"defaults", Options{}, 50, 0},
		{"negative limit", Options{Limit: -1}, 50, 0},
		{"over max", Options{Limit: 10000}, 200, 0},
		{"negative offset", Options{Limit: 10, Offset: -5}, 10, 0},
		{"passthrough", Options{Limit: 25, Offset: 75}, 25, 75},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.opts.SkipCache = true
			page, err := svc.Search(context.Background(), models.ExecutionFilter{}, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.wantLimit, captured.Limit)
			assert.Equal(t, tc.wantOffset, captured.Offset)
			assert.Equal(t, tc.wantLimit, page.Pagination.Limit)
			assert.Equal(t, tc.wantOffset, page.Pagination.Offset)
		})
	}
}

func TestEnvelopeHasMore(t *testing.T) {
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			return execList(10), 25, nil
		},
	}
	svc := NewService(repo, newMemoryCache(), nilPolicy{}, testConfig, zerolog.Nop())

	page, err := svc.Search(context.Background(), models.ExecutionFilter{}, Options{Limit: 10, SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, 25, page.Pagination.Total)
	assert.True(t, page.Pagination.HasMore)

	page, err = svc.Search(context.Background(), models.ExecutionFilter{}, Options{Limit: 10, Offset: 15, SkipCache: true})
	require.NoError(t, err)
	assert.False(t, page.Pagination.HasMore)
}

func TestSearchCachesResults(t *testing.T) {
	calls := 0
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			calls++
			return execList(2), 2, nil
		},
	}
	c := newMemoryCache()
	svc := NewService(repo, c, nilPolicy{}, testConfig, zerolog.Nop())

	jobID := "daily-report"
	_, err := svc.ListByJob(context.Background(), jobID, Options{})
	require.NoError(t, err)
	_, err = svc.ListByJob(context.Background(), jobID, Options{})
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, c.hits)
}

func TestSkipCacheBypassesRead(t *testing.T) {
	calls := 0
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			calls++
			return execList(1), 1, nil
		},
	}
	svc := NewService(repo, newMemoryCache(), nilPolicy{}, testConfig, zerolog.Nop())

	jobID := "daily-report"
	_, err := svc.ListByJob(context.Background(), jobID, Options{})
	require.NoError(t, err)
	_, err = svc.ListByJob(context.Background(), jobID, Options{SkipCache: true})
	require.NoError(t, err)

	assert.Equal(t, 2, calls)
}

func TestListFailedDefaultsWindow(t *testing.T) {
	var captured repository.SearchQuery
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			captured = q
			return []models.JobExecution{}, 0, nil
		},
	}
	svc := NewService(repo, newMemoryCache(), nilPolicy{}, testConfig, zerolog.Nop())

	_, err := svc.ListFailed(context.Background(), 0, nil, Options{SkipCache: true})
	require.NoError(t, err)

	require.NotNil(t, captured.Filter.ExecutionStatus)
	assert.Equal(t, models.StatusFailure, *captured.Filter.ExecutionStatus)
	require.NotNil(t, captured.Filter.StartedAtMin)
	assert.WithinDuration(t, time.Now().AddDate(0, 0, -7), *captured.Filter.StartedAtMin, time.Minute)
}

func TestListLongRunningUsesConfiguredThreshold(t *testing.T) {
	var capturedFor time.Duration
	repo := &fakeRepo{
		longRunningFn: func(_ context.Context, runningFor time.Duration, limit, offset int) ([]models.JobExecution, int, error) {
			capturedFor = runningFor
			return execList(1), 1, nil
		},
	}
	svc := NewService(repo, newMemoryCache(), nilPolicy{}, testConfig, zerolog.Nop())

	_, err := svc.ListLongRunning(context.Background(), Options{SkipCache: true})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, capturedFor)
}

func TestEnvelopeDecoratesRunningSLA(t *testing.T) {
	started := time.Now().Add(-10 * time.Minute)
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			return []models.JobExecution{{
				ID:              "ex-1",
				JobID:           "daily-report",
				ExecutionStatus: models.StatusRunning,
				StartedAt:       &started,
			}}, 1, nil
		},
	}
	sla := 60.0
	svc := NewService(repo, newMemoryCache(), fixedSLAPolicy{sla: &sla}, testConfig, zerolog.Nop())

	page, err := svc.ListActive(context.Background(), Options{SkipCache: true})
	require.NoError(t, err)
	require.Len(t, page.Data, 1)
	require.NotNil(t, page.Data[0].SLABreached)
	assert.True(t, *page.Data[0].SLABreached)
}

func TestListSLABreachedIncludesRunningPastSLA(t *testing.T) {
	longAgo := time.Now().Add(-10 * time.Minute)
	justNow := time.Now().Add(-10 * time.Second)
	repo := &fakeRepo{
		searchFn: func(_ context.Context, q repository.SearchQuery) ([]models.JobExecution, int, error) {
			if q.Filter.ExecutionStatus != nil && *q.Filter.ExecutionStatus == models.StatusRunning {
				return []models.JobExecution{
					{ID: "ex-slow", JobID: "daily-report", ExecutionStatus: models.StatusRunning, StartedAt: &longAgo},
					{ID: "ex-fresh", JobID: "daily-report", ExecutionStatus: models.StatusRunning, StartedAt: &justNow},
				}, 2, nil
			}
			require.NotNil(t, q.Filter.SLABreached)
			return []models.JobExecution{{ID: "ex-done", JobID: "daily-report", ExecutionStatus: models.StatusFailure}}, 1, nil
		},
	}
	sla := 60.0
	svc := NewService(repo, newMemoryCache(), fixedSLAPolicy{sla: &sla}, testConfig, zerolog.Nop())

	page, err := svc.ListSLABreached(context.Background(), 7, Options{SkipCache: true})
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "ex-slow", page.Data[0].ID)
	assert.Equal(t, "ex-done", page.Data[1].ID)
	assert.Equal(t, 2, page.Pagination.Total)
	assert.False(t, page.Pagination.HasMore)
}

type fixedSLAPolicy struct {
	sla *float64
}

func (p fixedSLAPolicy) SLASeconds(string) *float64     { return p.sla }
func (p fixedSLAPolicy) TimeoutSeconds(string) *float64 { return nil }
