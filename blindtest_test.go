package main

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBlindtestSession(questionCount int) *BlindtestSession {
	questions := make([]*BlindtestQuestion, questionCount)
	for i := range questions {
		questions[i] = &BlindtestQuestion{
			Meta: QuestionMeta{
				Type:     "musique",
				Source:   "test",
				Title:    "Track",
				Composer: "Composer",
			},
			SearchHint:        "test track",
			AcceptableAnswers: []string{"answer"},
			DisplayableAnswer: "Answer",
		}
	}
	return &BlindtestSession{
		guildID: snowflake.ID(1),
		set: &Blindtest{
			Theme:      "test",
			AnswerType: "titre de la musique",
			Questions:  questions,
		},
		active:   true,
		roundGen: 1,
		scores:   make(map[snowflake.ID]int),
		answered: make(map[snowflake.ID]struct{}),
	}
}

func TestTakeRoundResolution_ClaimedOnce(t *testing.T) {
	s := newTestBlindtestSession(2)

	s.mu.Lock()
	q, hasMore, ok := s.takeRoundResolutionLocked(1)
	s.mu.Unlock()
	require.True(t, ok)
	require.NotNil(t, q)
	assert.True(t, hasMore)
	assert.Equal(t, 1, s.questionIndex)

	// A concurrent path losing the race must observe the round as resolved.
	s.mu.Lock()
	_, _, ok = s.takeRoundResolutionLocked(1)
	s.mu.Unlock()
	assert.False(t, ok)
	assert.Equal(t, 1, s.questionIndex)
}

func TestTakeRoundResolution_ConcurrentTimerAndAnswer(t *testing.T) {
	s := newTestBlindtestSession(3)

	var claimed int32
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.mu.Lock()
			_, _, ok := s.takeRoundResolutionLocked(1)
			s.mu.Unlock()
			if ok {
				atomic.AddInt32(&claimed, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), claimed)
	assert.Equal(t, 1, s.questionIndex)
}

func TestTakeRoundResolution_StaleGeneration(t *testing.T) {
	s := newTestBlindtestSession(2)
	s.roundGen = 5

	s.mu.Lock()
	_, _, ok := s.takeRoundResolutionLocked(4)
	s.mu.Unlock()
	assert.False(t, ok)
	assert.Equal(t, 0, s.questionIndex)
}

func TestTakeRoundResolution_InactiveSession(t *testing.T) {
	s := newTestBlindtestSession(2)
	s.active = false

	s.mu.Lock()
	_, _, ok := s.takeRoundResolutionLocked(1)
	s.mu.Unlock()
	assert.False(t, ok)
}

func TestTakeRoundResolution_LastQuestion(t *testing.T) {
	s := newTestBlindtestSession(1)

	s.mu.Lock()
	_, hasMore, ok := s.takeRoundResolutionLocked(1)
	s.mu.Unlock()
	require.True(t, ok)
	assert.False(t, hasMore)
	assert.Equal(t, 1, s.questionIndex)
}

func TestTakeRoundResolution_IndexMonotonic(t *testing.T) {
	s := newTestBlindtestSession(3)

	for gen := 1; gen <= 3; gen++ {
		s.mu.Lock()
		s.roundGen = gen
		s.roundResolved = false
		_, _, ok := s.takeRoundResolutionLocked(gen)
		s.mu.Unlock()
		require.True(t, ok)
		assert.Equal(t, gen, s.questionIndex)
	}
}

func TestCancelTimers_StopsPendingTimer(t *testing.T) {
	s := newTestBlindtestSession(1)

	var fired int32
	s.mu.Lock()
	s.roundTimer = time.AfterFunc(50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	s.settleTimer = time.AfterFunc(50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	s.cancelTimersLocked()
	s.mu.Unlock()

	assert.Nil(t, s.roundTimer)
	assert.Nil(t, s.settleTimer)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestTakeRoundResolution_CancelsTimers(t *testing.T) {
	s := newTestBlindtestSession(2)

	var fired int32
	s.mu.Lock()
	s.roundTimer = time.AfterFunc(50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	_, _, ok := s.takeRoundResolutionLocked(1)
	s.mu.Unlock()
	require.True(t, ok)

	assert.Nil(t, s.roundTimer)
	time.Sleep(120 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&fired))
}

func TestAllPresentAnswered(t *testing.T) {
	u1, u2, u3 := snowflake.ID(10), snowflake.ID(11), snowflake.ID(12)

	tests := []struct {
		name     string
		roster   []snowflake.ID
		answered []snowflake.ID
		want     bool
	}{
		{
			name:     "Empty roster never short-circuits",
			roster:   nil,
			answered: []snowflake.ID{u1},
			want:     false,
		},
		{
			name:     "All answered",
			roster:   []snowflake.ID{u1, u2},
			answered: []snowflake.ID{u1, u2},
			want:     true,
		},
		{
			name:     "One missing",
			roster:   []snowflake.ID{u1, u2, u3},
			answered: []snowflake.ID{u1, u2},
			want:     false,
		},
		{
			name:     "Single player answered",
			roster:   []snowflake.ID{u1},
			answered: []snowflake.ID{u1},
			want:     true,
		},
		{
			name:     "Answered set may exceed roster",
			roster:   []snowflake.ID{u1},
			answered: []snowflake.ID{u1, u2},
			want:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answered := make(map[snowflake.ID]struct{}, len(tt.answered))
			for _, id := range tt.answered {
				answered[id] = struct{}{}
			}
			assert.Equal(t, tt.want, allPresentAnswered(tt.roster, answered))
		})
	}
}

func TestRankedScores_DescendingStableTies(t *testing.T) {
	s := newTestBlindtestSession(1)
	u1, u2, u3 := snowflake.ID(10), snowflake.ID(11), snowflake.ID(12)

	// u1 scores first, then u2, then u3; u2 ends up ahead, u1 and u3 tie.
	s.mu.Lock()
	for _, step := range []snowflake.ID{u1, u2, u3, u2} {
		if _, seen := s.scores[step]; !seen {
			s.scoreOrder = append(s.scoreOrder, step)
		}
		s.scores[step]++
	}
	ranking := s.rankedScoresLocked()
	s.mu.Unlock()

	require.Len(t, ranking, 3)
	assert.Equal(t, u2, ranking[0].userID)
	assert.Equal(t, 2, ranking[0].score)
	assert.Equal(t, u1, ranking[1].userID)
	assert.Equal(t, u3, ranking[2].userID)
}

func TestRankedScores_Empty(t *testing.T) {
	s := newTestBlindtestSession(1)

	s.mu.Lock()
	ranking := s.rankedScoresLocked()
	s.mu.Unlock()

	assert.Empty(t, ranking)
	assert.False(t, hasAnyScore(ranking))
}

func TestHasAnyScore(t *testing.T) {
	assert.False(t, hasAnyScore(nil))
	assert.False(t, hasAnyScore([]scoreEntry{{userID: 1, score: 0}}))
	assert.True(t, hasAnyScore([]scoreEntry{{userID: 1, score: 0}, {userID: 2, score: 3}}))
}

func TestSessionManager_ReusesPerGuild(t *testing.T) {
	m := &BlindtestManager{sessions: make(map[snowflake.ID]*BlindtestSession)}

	var client bot.Client
	a := m.Session(client, snowflake.ID(1))
	b := m.Session(client, snowflake.ID(1))
	c := m.Session(client, snowflake.ID(2))

	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
}
