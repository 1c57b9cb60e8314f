package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func backends(t *testing.T) map[string]func(t *testing.T) Repository {
	t.Helper()
	return map[string]func(t *testing.T) Repository{
		BackendMemory: func(t *testing.T) Repository {
			return NewMemoryRepository()
		},
		BackendSQLite: func(t *testing.T) Repository {
			repo, err := OpenSQLite(filepath.Join(t.TempDir(), "streams.db"), 0)
			require.NoError(t, err)
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
		BackendRedis: func(t *testing.T) Repository {
			mr := miniredis.RunT(t)
			client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
			repo := NewRedisRepository(client, "test")
			t.Cleanup(func() { _ = repo.Close() })
			return repo
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, repo Repository)) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			fn(t, open(t))
		})
	}
}

func TestRepository_CreateGetList(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		a, err := repo.Create(ctx, Record{Name: " Gate ", URL: "https://cams.example.com/gate.m3u8", IsActive: true})
		require.NoError(t, err)
		assert.NotEmpty(t, a.ID)
		assert.Equal(t, "Gate", a.Name)
		assert.False(t, a.CreatedAt.IsZero())

		time.Sleep(2 * time.Millisecond)
		b, err := repo.Create(ctx, Record{Name: "Lobby", URL: "https://cams.example.com/lobby.m3u8", Description: "ground floor"})
		require.NoError(t, err)

		got, err := repo.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.URL, got.URL)
		assert.True(t, got.IsActive)
		assert.True(t, a.CreatedAt.Equal(got.CreatedAt))

		list, err := repo.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, b.ID, list[0].ID, "newest first")
		assert.Equal(t, a.ID, list[1].ID)
		assert.Equal(t, "ground floor", list[0].Description)
	})
}

func TestRepository_CreateRejectsInvalidAndDuplicate(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		_, err := repo.Create(ctx, Record{Name: "", URL: "https://a.example.com/x.m3u8"})
		assert.ErrorIs(t, err, ErrDuplicateOrInvalid)

		_, err = repo.Create(ctx, Record{Name: strings.Repeat("n", MaxNameLength+1), URL: "https://a.example.com/x.m3u8"})
		assert.ErrorIs(t, err, ErrDuplicateOrInvalid)

		_, err = repo.Create(ctx, Record{Name: "bad", URL: "example.com/x.m3u8"})
		assert.ErrorIs(t, err, ErrDuplicateOrInvalid)

		_, err = repo.Create(ctx, Record{Name: "one", URL: "https://a.example.com/x.m3u8"})
		require.NoError(t, err)
		_, err = repo.Create(ctx, Record{Name: "two", URL: "https://a.example.com/x.m3u8"})
		assert.ErrorIs(t, err, ErrDuplicateOrInvalid)

		list, err := repo.List(ctx)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})
}

func TestRepository_Update(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		a, err := repo.Create(ctx, Record{Name: "a", URL: "https://a.example.com/a.m3u8", IsActive: true})
		require.NoError(t, err)
		b, err := repo.Create(ctx, Record{Name: "b", URL: "https://a.example.com/b.m3u8"})
		require.NoError(t, err)

		name, inactive := "renamed", false
		got, err := repo.Update(ctx, a.ID, Fields{Name: &name, IsActive: &inactive})
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name)
		assert.False(t, got.IsActive)
		assert.Equal(t, a.URL, got.URL)

		taken := b.URL
		_, err = repo.Update(ctx, a.ID, Fields{URL: &taken})
		assert.ErrorIs(t, err, ErrDuplicateOrInvalid)

		moved := "https://a.example.com/c.m3u8"
		_, err = repo.Update(ctx, a.ID, Fields{URL: &moved})
		require.NoError(t, err)

		// The old URL is free again.
		old := a.URL
		_, err = repo.Update(ctx, b.ID, Fields{URL: &old})
		assert.NoError(t, err)

		stored, err := repo.Get(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, moved, stored.URL)
		assert.Equal(t, "renamed", stored.Name)

		_, err = repo.Update(ctx, "missing", Fields{Name: &name})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestRepository_Delete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()

		a, err := repo.Create(ctx, Record{Name: "a", URL: "https://a.example.com/a.m3u8"})
		require.NoError(t, err)

		require.NoError(t, repo.Delete(ctx, a.ID))
		assert.ErrorIs(t, repo.Delete(ctx, a.ID), ErrNotFound)

		_, err = repo.Get(ctx, a.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		// URL can be registered again after delete.
		_, err = repo.Create(ctx, Record{Name: "again", URL: a.URL})
		assert.NoError(t, err)
	})
}

func TestRepository_ConcurrentCreateSameURL(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		var created atomic.Int32
		var g errgroup.Group
		for i := 0; i < 20; i++ {
			g.Go(func() error {
				_, err := repo.Create(context.Background(), Record{Name: "dup", URL: "https://a.example.com/same.m3u8"})
				switch {
				case err == nil:
					created.Add(1)
					return nil
				case errors.Is(err, ErrDuplicateOrInvalid):
					return nil
				default:
					return err
				}
			})
		}
		require.NoError(t, g.Wait())
		assert.EqualValues(t, 1, created.Load())

		recs, err := repo.List(context.Background())
		require.NoError(t, err)
		assert.Len(t, recs, 1)
	})
}

func TestRepository_ConcurrentUpdateAndDelete(t *testing.T) {
	forEachBackend(t, func(t *testing.T, repo Repository) {
		ctx := context.Background()
		for i := 0; i < 25; i++ {
			orig := fmt.Sprintf("https://a.example.com/%d.m3u8", i)
			moved := fmt.Sprintf("https://a.example.com/%d-moved.m3u8", i)
			rec, err := repo.Create(ctx, Record{Name: "race", URL: orig})
			require.NoError(t, err)

			var g errgroup.Group
			g.Go(func() error {
				_, err := repo.Update(ctx, rec.ID, Fields{URL: &moved})
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				return repo.Delete(ctx, rec.ID)
			})
			require.NoError(t, g.Wait())

			// The delete wins in the end whatever the interleaving: no record,
			// no list entry and no URL left claimed.
			_, err = repo.Get(ctx, rec.ID)
			require.ErrorIs(t, err, ErrNotFound)
			recs, err := repo.List(ctx)
			require.NoError(t, err)
			require.Empty(t, recs)

			for _, url := range []string{orig, moved} {
				again, err := repo.Create(ctx, Record{Name: "again", URL: url})
				require.NoError(t, err, url)
				require.NoError(t, repo.Delete(ctx, again.ID))
			}
		}
	})
}

func TestSQLiteRepository_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streams.db")
	repo, err := OpenSQLite(path, time.Second)
	require.NoError(t, err)
	a, err := repo.Create(context.Background(), Record{Name: "a", URL: "https://a.example.com/a.m3u8"})
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	repo, err = OpenSQLite(path, time.Second)
	require.NoError(t, err)
	defer repo.Close()
	got, err := repo.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
}

func TestOpen(t *testing.T) {
	log := slog.New(slog.DiscardHandler)
	ctx := context.Background()

	repo, err := Open(ctx, Config{}, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)

	repo, err = Open(ctx, Config{Backend: BackendSQLite, SQLitePath: filepath.Join(t.TempDir(), "s.db")}, log)
	require.NoError(t, err)
	assert.IsType(t, &SQLiteRepository{}, repo)
	require.NoError(t, repo.Close())

	mr := miniredis.RunT(t)
	repo, err = Open(ctx, Config{Backend: BackendRedis, RedisAddr: mr.Addr()}, log)
	require.NoError(t, err)
	assert.IsType(t, &RedisRepository{}, repo)
	require.NoError(t, repo.Close())

	mr.Close()
	repo, err = Open(ctx, Config{Backend: BackendRedis, RedisAddr: mr.Addr()}, log)
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo, "falls back when redis is down")

	_, err = Open(ctx, Config{Backend: "postgres"}, log)
	assert.Error(t, err)
}
