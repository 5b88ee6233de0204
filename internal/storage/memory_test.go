package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking-engine/internal/links"
	"booking-engine/internal/model"
)

func TestMemory_AtomicallySerializesPerBusiness(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Atomically(ctx, "biz-1", func(ctx context.Context) error {
				mu.Lock()
				inside++
				if inside > maxSeen {
					maxSeen = inside
				}
				mu.Unlock()
				// store calls inside the section must not deadlock
				_, _ = m.ListWindows(ctx, "biz-1")
				time.Sleep(time.Millisecond)
				mu.Lock()
				inside--
				mu.Unlock()
				return nil
			})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestMemory_ReplaceExceptionsOnlyTouchesListedDates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.ReplaceExceptions(ctx, "biz-1", []string{"2026-10-19", "2026-10-20"}, []model.AvailabilityException{
		{Date: "2026-10-19", Type: model.ExceptionBlocked},
		{Date: "2026-10-20", Type: model.ExceptionBlocked},
	})
	require.NoError(t, err)

	_, err = m.ReplaceExceptions(ctx, "biz-1", []string{"2026-10-19"}, nil)
	require.NoError(t, err)

	all, err := m.ListExceptions(ctx, "biz-1", "")
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "2026-10-20", all[0].Date)
}

func TestMemory_DeleteBusyBlockManualOnly(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)

	manual := model.BusyBlock{BusinessID: "biz-1", Start: start, End: start.Add(time.Hour), Source: model.SourceManual}
	require.NoError(t, m.CreateBusyBlock(ctx, &manual))
	require.NoError(t, m.ReplaceSyncedBlocks(ctx, "biz-1", model.SourceGoogle, start, start.Add(24*time.Hour),
		[]model.BusyBlock{{ID: "g1", Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)}}))

	assert.ErrorIs(t, m.DeleteBusyBlock(ctx, "biz-1", "g1"), model.ErrNotFound)
	assert.ErrorIs(t, m.DeleteBusyBlock(ctx, "biz-2", manual.ID), model.ErrNotFound)
	require.NoError(t, m.DeleteBusyBlock(ctx, "biz-1", manual.ID))

	blocks, err := m.ListBusyBlocks(ctx, "biz-1", start, start.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, model.SourceGoogle, blocks[0].Source)
}

func TestMemory_ReplaceSyncedBlocksKeepsOtherSources(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	start := time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)
	window := start.Add(24 * time.Hour)

	manual := model.BusyBlock{BusinessID: "biz-1", Start: start, End: start.Add(time.Hour), Source: model.SourceManual}
	require.NoError(t, m.CreateBusyBlock(ctx, &manual))
	require.NoError(t, m.ReplaceSyncedBlocks(ctx, "biz-1", model.SourceGoogle, start, window,
		[]model.BusyBlock{{Start: start.Add(time.Hour), End: start.Add(2 * time.Hour)}}))
	require.NoError(t, m.ReplaceSyncedBlocks(ctx, "biz-1", model.SourceGoogle, start, window,
		[]model.BusyBlock{{Start: start.Add(4 * time.Hour), End: start.Add(5 * time.Hour)}}))

	blocks, err := m.ListBusyBlocks(ctx, "biz-1", start, window)
	require.NoError(t, err)
	assert.Len(t, blocks, 2)
}

func TestMemory_FindRecentDuplicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	start := now.Add(48 * time.Hour)

	require.NoError(t, m.CreateRequest(ctx, &model.BookingRequest{
		ID: "r1", BusinessID: "biz-1", CustomerEmail: "ada@example.com", PreferredStart: &start, CreatedAt: now,
	}))
	require.NoError(t, m.CreateRequest(ctx, &model.BookingRequest{
		ID: "r2", BusinessID: "biz-1", CustomerEmail: "ada@example.com", CreatedAt: now,
	}))

	r, ok, err := m.FindRecentDuplicate(ctx, "biz-1", "ADA@example.com", &start, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r1", r.ID)

	r, ok, err = m.FindRecentDuplicate(ctx, "biz-1", "ada@example.com", nil, now.Add(-30*time.Minute))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "r2", r.ID)

	_, ok, err = m.FindRecentDuplicate(ctx, "biz-1", "ada@example.com", &start, now.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, ok, "outside the window")
}

func TestMemory_InsertLinkConflicts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	stored, inserted, err := m.InsertLink(ctx, model.PublicLink{BusinessID: "biz-1", Code: "AbCdEfGh"})
	require.NoError(t, err)
	assert.True(t, inserted)

	_, _, err = m.InsertLink(ctx, model.PublicLink{BusinessID: "biz-2", Code: "AbCdEfGh"})
	assert.ErrorIs(t, err, links.ErrCodeTaken)

	again, inserted, err := m.InsertLink(ctx, model.PublicLink{BusinessID: "biz-1", Code: "ZZZZZZZZ"})
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.Equal(t, stored, again)
}
