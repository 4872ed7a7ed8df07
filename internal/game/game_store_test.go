// internal/game/game_store_test.go
package game

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/jason-s-yu/checkers/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRepo keeps games in a map and can be told to fail or stall saves.
type fakeRepo struct {
	mu        sync.Mutex
	games     map[uuid.UUID]models.Game
	moves     []models.MoveRecord
	failSave  bool
	saveDelay time.Duration
	loads     atomic.Int32
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{games: make(map[uuid.UUID]models.Game)}
}

func (r *fakeRepo) CreateGame(_ context.Context, g models.Game) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID] = g
	return nil
}

func (r *fakeRepo) LoadGame(ctx context.Context, id uuid.UUID) (models.Game, error) {
	r.loads.Add(1)
	select {
	case <-ctx.Done():
		return models.Game{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	g, ok := r.games[id]
	if !ok {
		return models.Game{}, apperror.ErrGameNotFound
	}
	return g, nil
}

func (r *fakeRepo) ListGames(_ context.Context, status models.GameStatus) ([]models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Game
	for _, g := range r.games {
		if g.Status == status {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepo) ListGamesByPlayer(_ context.Context, userID uuid.UUID) ([]models.Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Game
	for _, g := range r.games {
		if g.PlayerA == userID || g.PlayerB == userID {
			out = append(out, g)
		}
	}
	return out, nil
}

func (r *fakeRepo) SaveGame(_ context.Context, g models.Game, mv *models.MoveRecord) error {
	r.mu.Lock()
	delay, fail := r.saveDelay, r.failSave
	r.mu.Unlock()
	time.Sleep(delay)
	if fail {
		return errors.New("connection refused")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.games[g.ID] = g
	if mv != nil {
		r.moves = append(r.moves, *mv)
	}
	return nil
}

func (r *fakeRepo) setFailSave(v bool) {
	r.mu.Lock()
	r.failSave = v
	r.mu.Unlock()
}

type fakePublisher struct {
	mu    sync.Mutex
	moves []models.MoveRecord
	err   error
}

func (p *fakePublisher) PublishMove(_ context.Context, rec models.MoveRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.moves = append(p.moves, rec)
	return p.err
}

// commitLog records every committed state the store reports, per game.
type commitLog struct {
	mu      sync.Mutex
	commits map[uuid.UUID][]models.Game
}

func newCommitLog() *commitLog { return &commitLog{commits: make(map[uuid.UUID][]models.Game)} }

func (l *commitLog) record(g models.Game) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.commits[g.ID] = append(l.commits[g.ID], g)
}

func (l *commitLog) of(id uuid.UUID) []models.Game {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.Game(nil), l.commits[id]...)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func sq(row, col int) board.Coord { return board.Coord{Row: row, Col: col} }

// startedGame creates, invites and starts a game between two fresh users.
func startedGame(t *testing.T, s *Store) (models.Game, uuid.UUID, uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	a, b := uuid.New(), uuid.New()

	g, err := s.Create(ctx, a)
	require.NoError(t, err)
	_, err = s.Invite(ctx, g.ID, a, b)
	require.NoError(t, err)
	g, err = s.Start(ctx, g.ID, b)
	require.NoError(t, err)
	return g, a, b
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	repo := newFakeRepo()
	s := NewStore(repo, WithClock(clock), WithLogger(quietLogger()))
	a, b := uuid.New(), uuid.New()

	g, err := s.Create(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, models.GameWaiting, g.Status)
	assert.Equal(t, board.None, g.Turn)
	assert.Equal(t, clock.Now(), g.CreatedAt)

	_, err = s.Start(ctx, g.ID, a)
	assert.ErrorIs(t, err, apperror.ErrOpponentMissing)

	_, err = s.Invite(ctx, g.ID, b, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)
	_, err = s.Invite(ctx, g.ID, a, a)
	assert.ErrorIs(t, err, apperror.ErrCannotInviteSelf)

	g, err = s.Invite(ctx, g.ID, a, b)
	require.NoError(t, err)
	assert.Equal(t, b, g.PlayerB)

	_, err = s.Invite(ctx, g.ID, a, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrAlreadyInvited)

	clock.Advance(time.Minute)
	g, err = s.Start(ctx, g.ID, b)
	require.NoError(t, err)
	assert.Equal(t, models.GameInProgress, g.Status)
	assert.Equal(t, board.A, g.Turn)
	assert.Equal(t, clock.Now(), g.StartedAt)

	_, err = s.Start(ctx, g.ID, a)
	assert.ErrorIs(t, err, apperror.ErrGameNotWaiting)

	// the repository saw every committed change
	stored, err := repo.LoadGame(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g, stored)
}

func TestSubmitMove(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	pub := &fakePublisher{}
	s := NewStore(repo, WithActionPublisher(pub), WithLogger(quietLogger()))
	g, a, b := startedGame(t, s)

	next, res, err := s.SubmitMove(ctx, g.ID, a, sq(2, 3), sq(3, 4))
	require.NoError(t, err)
	assert.Equal(t, board.B, next.Turn)
	assert.Empty(t, res.Captures)
	assert.Equal(t, board.ManA, next.Board[3][4])

	_, _, err = s.SubmitMove(ctx, g.ID, a, sq(2, 5), sq(3, 6))
	assert.ErrorIs(t, err, apperror.ErrNotYourTurn)

	_, _, err = s.SubmitMove(ctx, g.ID, b, sq(5, 0), sq(4, 1))
	require.NoError(t, err)

	require.Len(t, repo.moves, 2)
	assert.Equal(t, 1, repo.moves[0].MoveNumber)
	assert.Equal(t, b, repo.moves[1].MoverID)
	assert.Equal(t, board.B, repo.moves[1].Side)
	assert.Len(t, pub.moves, 2)
}

func TestPublishFailureDoesNotRejectMove(t *testing.T) {
	pub := &fakePublisher{err: errors.New("redis down")}
	s := NewStore(newFakeRepo(), WithActionPublisher(pub), WithLogger(quietLogger()))
	g, a, _ := startedGame(t, s)

	next, _, err := s.SubmitMove(context.Background(), g.ID, a, sq(2, 3), sq(3, 4))
	require.NoError(t, err)
	assert.Equal(t, board.B, next.Turn)
}

func TestSpectatorCannotMove(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()))
	g, _, _ := startedGame(t, s)

	_, _, err := s.SubmitMove(ctx, g.ID, uuid.New(), sq(2, 3), sq(3, 4))
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)
	assert.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	after, err := s.Snapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g, after)
}

func TestFailedSaveRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	pub := &fakePublisher{}
	s := NewStore(repo, WithActionPublisher(pub), WithLogger(quietLogger()))
	g, a, _ := startedGame(t, s)

	repo.setFailSave(true)
	_, _, err := s.SubmitMove(ctx, g.ID, a, sq(2, 3), sq(3, 4))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrStorage)
	assert.Equal(t, apperror.KindFatal, apperror.KindOf(err))

	after, err := s.Snapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, g, after, "a move that was not saved must not be visible")
	assert.Empty(t, pub.moves)

	_, err = s.Abandon(ctx, g.ID, a)
	assert.ErrorIs(t, err, apperror.ErrStorage)

	// once storage recovers the same move goes through
	repo.setFailSave(false)
	_, _, err = s.SubmitMove(ctx, g.ID, a, sq(2, 3), sq(3, 4))
	require.NoError(t, err)
}

func TestConcurrentMovesSameSide(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	s := NewStore(repo, WithLogger(quietLogger()))
	g, a, _ := startedGame(t, s)
	repo.saveDelay = 5 * time.Millisecond

	moves := [][2]board.Coord{
		{sq(2, 1), sq(3, 0)},
		{sq(2, 1), sq(3, 2)},
		{sq(2, 3), sq(3, 4)},
		{sq(2, 5), sq(3, 6)},
		{sq(2, 7), sq(3, 6)},
	}

	var wg sync.WaitGroup
	var ok, stale atomic.Int32
	start := make(chan struct{})
	for _, mv := range moves {
		wg.Add(1)
		go func(from, to board.Coord) {
			defer wg.Done()
			<-start
			_, _, err := s.SubmitMove(ctx, g.ID, a, from, to)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, apperror.ErrNotYourTurn):
				stale.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(mv[0], mv[1])
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(len(moves)-1), stale.Load())

	after, err := s.Snapshot(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, after.MoveCount)
	assert.Equal(t, board.B, after.Turn)
	assert.Len(t, repo.moves, 1)
}

func TestConcurrentMovesBothSides(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	s := NewStore(repo, WithLogger(quietLogger()))

	for i := 0; i < 20; i++ {
		g, a, b := startedGame(t, s)

		var wg sync.WaitGroup
		var errA, errB error
		start := make(chan struct{})
		wg.Add(2)
		go func() {
			defer wg.Done()
			<-start
			_, _, errA = s.SubmitMove(ctx, g.ID, a, sq(2, 1), sq(3, 0))
		}()
		go func() {
			defer wg.Done()
			<-start
			_, _, errB = s.SubmitMove(ctx, g.ID, b, sq(5, 6), sq(4, 7))
		}()
		close(start)
		wg.Wait()

		// A always gets through. B only succeeds if it observed A's committed move.
		require.NoError(t, errA)
		after, err := s.Snapshot(ctx, g.ID)
		require.NoError(t, err)
		if errB != nil {
			assert.ErrorIs(t, errB, apperror.ErrNotYourTurn)
			assert.Equal(t, 1, after.MoveCount)
			assert.Equal(t, board.B, after.Turn)
		} else {
			assert.Equal(t, 2, after.MoveCount)
			assert.Equal(t, board.A, after.Turn)
		}
	}
}

func TestAbandon(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()))
	g, a, b := startedGame(t, s)

	_, err := s.Abandon(ctx, g.ID, uuid.New())
	assert.ErrorIs(t, err, apperror.ErrNotParticipant)

	done, err := s.Abandon(ctx, g.ID, b)
	require.NoError(t, err)
	assert.Equal(t, models.GameFinished, done.Status)
	assert.Equal(t, a, done.WinnerID())
	assert.Equal(t, board.None, done.Turn)

	_, err = s.Abandon(ctx, g.ID, a)
	assert.ErrorIs(t, err, apperror.ErrGameFinished)
	_, _, err = s.SubmitMove(ctx, g.ID, a, sq(2, 1), sq(3, 0))
	assert.ErrorIs(t, err, apperror.ErrGameNotInProgress)
	_, err = s.Start(ctx, g.ID, a)
	assert.ErrorIs(t, err, apperror.ErrGameFinished)
}

func TestAbandonWaitingGameHasNoWinner(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()))
	a := uuid.New()
	g, err := s.Create(ctx, a)
	require.NoError(t, err)

	done, err := s.Abandon(ctx, g.ID, a)
	require.NoError(t, err)
	assert.Equal(t, models.GameFinished, done.Status)
	assert.Equal(t, board.None, done.Winner)
}

func TestWinningMoveFinishesGame(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	clock := clockwork.NewFakeClock()
	s := NewStore(repo, WithClock(clock), WithLogger(quietLogger()))
	a, b := uuid.New(), uuid.New()

	// seed a nearly finished game straight into the repository
	var bd board.Board
	bd[2][1] = board.ManA
	bd[3][2] = board.ManB
	g := models.NewGame(uuid.New(), a, clock.Now())
	g.PlayerB = b
	g.Board = bd
	g.Status = models.GameInProgress
	g.Turn = board.A
	require.NoError(t, repo.CreateGame(ctx, g))

	done, res, err := s.SubmitMove(ctx, g.ID, a, sq(2, 1), sq(4, 3))
	require.NoError(t, err)
	assert.Equal(t, board.A, res.Winner)
	assert.Equal(t, models.GameFinished, done.Status)
	assert.Equal(t, a, done.WinnerID())
	assert.Equal(t, clock.Now(), done.EndedAt)

	assert.True(t, s.Evict(g.ID))
	assert.False(t, s.Evict(g.ID))
}

func TestLazyLoadIsShared(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	g := models.NewGame(uuid.New(), uuid.New(), time.Now())
	require.NoError(t, repo.CreateGame(ctx, g))
	s := NewStore(repo, WithLogger(quietLogger()))

	var wg sync.WaitGroup
	sessions := make([]*Session, 10)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sess, err := s.Get(ctx, g.ID)
			assert.NoError(t, err)
			sessions[i] = sess
		}(i)
	}
	wg.Wait()

	for _, sess := range sessions {
		assert.Same(t, sessions[0], sess)
	}
	assert.Equal(t, int32(1), repo.loads.Load())
}

func TestLazyLoadSurvivesCancelledCaller(t *testing.T) {
	repo := newFakeRepo()
	g := models.NewGame(uuid.New(), uuid.New(), time.Now())
	require.NoError(t, repo.CreateGame(context.Background(), g))
	s := NewStore(repo, WithLogger(quietLogger()))

	// Given: the caller that triggers the load has already given up
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	// When: it loads the game
	sess, err := s.Get(cancelled, g.ID)

	// Then: the shared load still completes and is reused
	require.NoError(t, err)
	again, err := s.Get(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Same(t, sess, again)
	assert.Equal(t, int32(1), repo.loads.Load())
}

func TestCommitListenerSeesCommitsInOrder(t *testing.T) {
	ctx := context.Background()
	commits := newCommitLog()
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()), WithCommitListener(commits.record))
	g, a, _ := startedGame(t, s)

	_, _, err := s.SubmitMove(ctx, g.ID, a, sq(2, 1), sq(3, 0))
	require.NoError(t, err)

	got := commits.of(g.ID)
	require.Len(t, got, 3) // invite, start, move
	assert.Equal(t, models.GameWaiting, got[0].Status)
	assert.Equal(t, models.GameInProgress, got[1].Status)
	assert.Equal(t, 1, got[2].MoveCount)

	// rejected mutations are never reported
	_, _, err = s.SubmitMove(ctx, g.ID, a, sq(2, 3), sq(3, 4))
	assert.ErrorIs(t, err, apperror.ErrNotYourTurn)
	assert.Len(t, commits.of(g.ID), 3)
}

func TestLastCommitWinsRaceBetweenMoveAndAbandon(t *testing.T) {
	ctx := context.Background()
	commits := newCommitLog()
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()), WithCommitListener(commits.record))

	for range 50 {
		g, a, b := startedGame(t, s)

		// When: a's move and b's abandon land at the same time
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = s.SubmitMove(ctx, g.ID, a, sq(2, 1), sq(3, 0))
		}()
		go func() {
			defer wg.Done()
			_, _ = s.Abandon(ctx, g.ID, b)
		}()
		wg.Wait()

		// Then: the last state reported is the state the store holds
		final, err := s.Snapshot(ctx, g.ID)
		require.NoError(t, err)
		require.Equal(t, models.GameFinished, final.Status)
		got := commits.of(g.ID)
		require.NotEmpty(t, got)
		last := got[len(got)-1]
		assert.Equal(t, final.Status, last.Status)
		assert.Equal(t, final.MoveCount, last.MoveCount)
		assert.Equal(t, final.Board, last.Board)
	}
}

func TestListByPlayer(t *testing.T) {
	ctx := context.Background()
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()))
	g, a, b := startedGame(t, s)
	_, err := s.Abandon(ctx, g.ID, b)
	require.NoError(t, err)
	require.True(t, s.Evict(g.ID))

	games, err := s.ListByPlayer(ctx, a)
	require.NoError(t, err)
	require.Len(t, games, 1)
	assert.Equal(t, models.GameFinished, games[0].Status)

	none, err := s.ListByPlayer(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestUnknownGame(t *testing.T) {
	s := NewStore(newFakeRepo(), WithLogger(quietLogger()))
	_, err := s.Snapshot(context.Background(), uuid.New())
	assert.ErrorIs(t, err, apperror.ErrGameNotFound)
	_, _, err = s.SubmitMove(context.Background(), uuid.New(), uuid.New(), sq(2, 1), sq(3, 0))
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}

func TestRestoreAndList(t *testing.T) {
	ctx := context.Background()
	repo := newFakeRepo()
	clock := clockwork.NewFakeClock()

	waiting := models.NewGame(uuid.New(), uuid.New(), clock.Now())
	playing := models.NewGame(uuid.New(), uuid.New(), clock.Now().Add(time.Second))
	playing.Status = models.GameInProgress
	finished := models.NewGame(uuid.New(), uuid.New(), clock.Now())
	finished.Status = models.GameFinished
	for _, g := range []models.Game{waiting, playing, finished} {
		require.NoError(t, repo.CreateGame(ctx, g))
	}

	s := NewStore(repo, WithClock(clock), WithLogger(quietLogger()))
	n, err := s.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list := s.ListByStatus(models.GameInProgress)
	require.Len(t, list, 1)
	assert.Equal(t, playing.ID, list[0].ID)
	assert.Len(t, s.ListByStatus(models.GameWaiting), 1)
	assert.Empty(t, s.ListByStatus(models.GameFinished))
}
