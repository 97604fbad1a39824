package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func TestRoomRepository_CRUD(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository(10, time.Hour, clock.Fake(epoch))

	room, err := domain.NewRoomWithCode("XY12", "")
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, room))
	assert.ErrorIs(t, repo.Create(ctx, room), domain.ErrRoomAlreadyExists)

	got, err := repo.GetByCode(ctx, " xy12")
	require.NoError(t, err)
	assert.Equal(t, "Public Room XY12", got.Name)

	got.Active = false
	stored, _ := repo.GetByCode(ctx, "XY12")
	assert.True(t, stored.Active, "callers receive copies")

	require.NoError(t, repo.Update(ctx, got))
	stored, _ = repo.GetByCode(ctx, "XY12")
	assert.False(t, stored.Active)

	missing, _ := domain.NewRoomWithCode("NOPE1", "")
	assert.ErrorIs(t, repo.Update(ctx, missing), domain.ErrRoomNotFound)
	assert.ErrorIs(t, repo.Pin(ctx, "NOPE1"), domain.ErrRoomNotFound)
}

func TestRoomRepository_CapacityEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(epoch)
	repo := NewRoomRepository(2, time.Hour, clk)

	for _, code := range []string{"AAA1", "BBB2"} {
		room, _ := domain.NewRoomWithCode(code, "")
		require.NoError(t, repo.Create(ctx, room))
		clk.Advance(time.Second)
	}

	_, err := repo.GetByCode(ctx, "AAA1")
	require.NoError(t, err)
	clk.Advance(time.Second)

	room, _ := domain.NewRoomWithCode("CCC3", "")
	require.NoError(t, repo.Create(ctx, room))

	rooms, err := repo.List(ctx)
	require.NoError(t, err)
	codes := make([]string, 0, len(rooms))
	for _, r := range rooms {
		codes = append(codes, r.Code)
	}
	assert.Equal(t, []string{"AAA1", "CCC3"}, codes)
}

func TestRoomRepository_IdleEvictionOnlyWhenFull(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(epoch)
	repo := NewRoomRepository(2, time.Minute, clk)

	old, _ := domain.NewRoomWithCode("OLD1", "")
	require.NoError(t, repo.Create(ctx, old))
	clk.Advance(time.Hour)

	fresh, _ := domain.NewRoomWithCode("NEW1", "")
	require.NoError(t, repo.Create(ctx, fresh))

	_, err := repo.GetByCode(ctx, "OLD1")
	assert.NoError(t, err, "idle room kept while below capacity")
}

func TestRoomRepository_PinnedRoomsSurviveEviction(t *testing.T) {
	ctx := context.Background()
	clk := clock.Fake(epoch)

	var evicted []string
	repo := NewRoomRepository(2, time.Minute, clk, WithEvictHook(func(code string) {
		evicted = append(evicted, code)
	}))

	for _, code := range []string{"XY12", "AAA1"} {
		room, _ := domain.NewRoomWithCode(code, "")
		require.NoError(t, repo.Create(ctx, room))
		clk.Advance(time.Second)
	}
	require.NoError(t, repo.Pin(ctx, "xy12"))
	clk.Advance(time.Hour)

	for _, code := range []string{"BBB2", "CCC3", "DDD4"} {
		room, _ := domain.NewRoomWithCode(code, "")
		require.NoError(t, repo.Create(ctx, room))
		clk.Advance(time.Second)
	}

	_, err := repo.GetByCode(ctx, "XY12")
	require.NoError(t, err, "pinned room is never evicted")
	assert.Equal(t, []string{"AAA1", "BBB2", "CCC3"}, evicted)

	repo.Unpin(ctx, "XY12")
	clk.Advance(time.Hour)
	room, _ := domain.NewRoomWithCode("EEE5", "")
	require.NoError(t, repo.Create(ctx, room))
	_, err = repo.GetByCode(ctx, "XY12")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound, "evictable again once unpinned")
}

func TestRoomRepository_FullOfPinnedRooms(t *testing.T) {
	ctx := context.Background()
	repo := NewRoomRepository(1, time.Minute, clock.Fake(epoch))

	room, _ := domain.NewRoomWithCode("XY12", "")
	require.NoError(t, repo.Create(ctx, room))
	require.NoError(t, repo.Pin(ctx, "XY12"))
	require.NoError(t, repo.Pin(ctx, "XY12"))
	repo.Unpin(ctx, "XY12")

	other, _ := domain.NewRoomWithCode("AAA1", "")
	assert.ErrorIs(t, repo.Create(ctx, other), domain.ErrRoomStoreFull)
	_, err := repo.GetByCode(ctx, "AAA1")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestMessageRepository_Capacity(t *testing.T) {
	ctx := context.Background()
	repo := NewMessageRepository(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, repo.Append(ctx, "XY12", domain.NewChatMessage("Ann", fmt.Sprintf("m%d", i), epoch)))
	}

	msgs, err := repo.GetByRoomCode(ctx, "XY12")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "m2", msgs[0].Text)
	assert.Equal(t, "m4", msgs[2].Text)

	empty, err := repo.GetByRoomCode(ctx, "NONE")
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.NoError(t, repo.DeleteRoom(ctx, "XY12"))
	msgs, _ = repo.GetByRoomCode(ctx, "XY12")
	assert.Empty(t, msgs)

	assert.ErrorIs(t, repo.Append(ctx, "", domain.Message{Text: "x"}), domain.ErrInvalidInput)
}
