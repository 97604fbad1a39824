package roomstate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tshare/publicroom/internal/domain"
	"github.com/tshare/publicroom/internal/infrastructure/clock"
	"github.com/tshare/publicroom/internal/protocol"
)

var t0 = time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC)

func newState() (*State, *clock.FakeClock) {
	clk := clock.Fake(t0)
	return New(clk, NewPresence("en")), clk
}

func snapshot(messages []domain.Message, users ...domain.Participant) protocol.RoomJoinedPayload {
	return protocol.RoomJoinedPayload{
		RoomCode: "XY12",
		RoomName: "Public Room XY12",
		Messages: messages,
		Users:    users,
	}
}

func TestApplySnapshot_MatchesPayload(t *testing.T) {
	s, _ := newState()
	msgs := []domain.Message{
		domain.NewChatMessage("Ann", "hi", t0),
		domain.NewChatMessage("Bob", "hey", t0.Add(time.Second)),
	}
	s.ApplySnapshot(snapshot(msgs,
		domain.Participant{ID: "1", Username: "Ann"},
		domain.Participant{ID: "2", Username: "Bob"}))

	v := s.View()
	assert.True(t, v.Joined)
	assert.Equal(t, "XY12", v.Room.Code)
	assert.Len(t, v.Participants, 2)
	assert.Equal(t, msgs, v.Messages)
	assert.Equal(t, uint64(1), v.Epoch)
}

func TestApplySnapshot_SingleParticipantEmptyLog(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot(nil, domain.Participant{ID: "1", Username: "Ann"}))

	v := s.View()
	assert.Equal(t, []domain.Participant{{ID: "1", Username: "Ann"}}, v.Participants)
	assert.Empty(t, v.Messages)
}

func TestApplySnapshot_DefaultsNameAndCode(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(protocol.RoomJoinedPayload{RoomCode: "xy12"})

	room := s.Room()
	assert.Equal(t, "XY12", room.Code)
	assert.Equal(t, "Public Room XY12", room.Name)
}

func TestApplySnapshot_ReplacesPreviousEpoch(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot([]domain.Message{domain.NewChatMessage("Ann", "one", t0)},
		domain.Participant{ID: "1", Username: "Ann"}))
	s.AppendChat(domain.NewChatMessage("Ann", "two", t0.Add(time.Second)))
	s.UserJoined(domain.Participant{ID: "2", Username: "Bob"})

	again := []domain.Message{
		domain.NewChatMessage("Ann", "one", t0),
		domain.NewChatMessage("Ann", "two", t0.Add(time.Second)),
	}
	s.ApplySnapshot(snapshot(again, domain.Participant{ID: "1", Username: "Ann"}))

	v := s.View()
	assert.Equal(t, again, v.Messages, "no duplicates across epochs")
	assert.Len(t, v.Participants, 1)
	assert.Equal(t, uint64(2), v.Epoch)
}

func TestApplySnapshot_DeduplicatesRosterByID(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot(nil,
		domain.Participant{ID: "1", Username: "Ann"},
		domain.Participant{ID: "1", Username: "Annie"}))

	assert.Equal(t, []domain.Participant{{ID: "1", Username: "Annie"}}, s.View().Participants)
}

func TestPresence_JoinAndLeave(t *testing.T) {
	s, clk := newState()
	s.ApplySnapshot(snapshot(nil, domain.Participant{ID: "1", Username: "Ann"}))

	clk.Advance(time.Second)
	require.True(t, s.UserJoined(domain.Participant{ID: "2", Username: "Bob"}))
	assert.False(t, s.UserJoined(domain.Participant{ID: "2", Username: "Bob"}), "already present")

	clk.Advance(time.Second)
	s.UserLeft(domain.Participant{ID: "2", Username: "Bob"})

	v := s.View()
	assert.Equal(t, []domain.Participant{{ID: "1", Username: "Ann"}}, v.Participants)
	require.Len(t, v.Messages, 2)
	assert.Equal(t, domain.KindSystem, v.Messages[0].Kind)
	assert.Equal(t, "Bob joined the room", v.Messages[0].Text)
	assert.Empty(t, v.Messages[0].Username)
	assert.Equal(t, "Bob left the room", v.Messages[1].Text)
	assert.Equal(t, t0.Add(2*time.Second), v.Messages[1].Timestamp)
}

func TestAppendChat_NoDeduplication(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot(nil))

	m := domain.NewChatMessage("Ann", "same", t0)
	s.AppendChat(m)
	s.AppendChat(m)
	assert.Len(t, s.View().Messages, 2)
}

func TestAppendChat_TimestampsNonDecreasing(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot([]domain.Message{domain.NewChatMessage("Ann", "late", t0.Add(time.Minute))}))

	s.AppendChat(domain.NewChatMessage("Bob", "skewed", t0))
	s.UserLeft(domain.Participant{ID: "2", Username: "Bob"})

	msgs := s.View().Messages
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].Timestamp.Before(msgs[i-1].Timestamp))
	}
}

func TestAppendPending(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot(nil))
	s.AppendPending("Ann", "lost?")

	msgs := s.View().Messages
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].Pending)
	assert.Equal(t, "lost?", msgs[0].Text)
}

func TestEventsIgnoredUntilJoinedAndAfterClear(t *testing.T) {
	s, _ := newState()
	s.AppendChat(domain.NewChatMessage("Ann", "early", t0))
	s.UserJoined(domain.Participant{ID: "2", Username: "Bob"})
	assert.Empty(t, s.View().Messages)

	s.ApplySnapshot(snapshot(nil))
	s.Clear()
	s.AppendChat(domain.NewChatMessage("Ann", "late", t0))

	v := s.View()
	assert.False(t, v.Joined)
	assert.Empty(t, v.Messages)
	assert.Empty(t, v.Participants)
}

func TestView_IsACopy(t *testing.T) {
	s, _ := newState()
	s.ApplySnapshot(snapshot(nil, domain.Participant{ID: "1", Username: "Ann"}))

	v := s.View()
	v.Participants[0].Username = "Mallory"
	assert.Equal(t, "Ann", s.View().Participants[0].Username)
}
