// internal/game/game_store.go
package game

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jason-s-yu/checkers/internal/apperror"
	"github.com/jason-s-yu/checkers/internal/board"
	"github.com/jason-s-yu/checkers/internal/models"
	"github.com/jason-s-yu/checkers/internal/rules"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// Repository is the durable store behind the in-memory sessions.
// LoadGame returns apperror.ErrGameNotFound for unknown ids.
type Repository interface {
	CreateGame(ctx context.Context, g models.Game) error
	LoadGame(ctx context.Context, id uuid.UUID) (models.Game, error)
	ListGames(ctx context.Context, status models.GameStatus) ([]models.Game, error)
	// ListGamesByPlayer returns every game userID plays in, newest first.
	ListGamesByPlayer(ctx context.Context, userID uuid.UUID) ([]models.Game, error)
	// SaveGame writes g and, when mv is non-nil, appends the move, atomically.
	SaveGame(ctx context.Context, g models.Game, mv *models.MoveRecord) error
}

// ActionPublisher receives every committed move. Failures never affect the game.
type ActionPublisher interface {
	PublishMove(ctx context.Context, rec models.MoveRecord) error
}

// CommitListener is called with every committed state, in commit order.
// It runs while the game is still locked, so it must not block or call back into the Store.
type CommitListener func(g models.Game)

const publishTimeout = 2 * time.Second

type Store struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*Session
	loads    singleflight.Group

	repo     Repository
	actions  ActionPublisher
	onCommit CommitListener
	clock    clockwork.Clock
	log      *logrus.Logger
}

type Option func(*Store)

func WithActionPublisher(p ActionPublisher) Option { return func(s *Store) { s.actions = p } }
func WithCommitListener(fn CommitListener) Option { return func(s *Store) { s.onCommit = fn } }
func WithClock(c clockwork.Clock) Option           { return func(s *Store) { s.clock = c } }
func WithLogger(l *logrus.Logger) Option           { return func(s *Store) { s.log = l } }

func NewStore(repo Repository, opts ...Option) *Store {
	s := &Store{
		sessions: make(map[uuid.UUID]*Session),
		repo:     repo,
		clock:    clockwork.NewRealClock(),
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func storageErr(op string, id uuid.UUID, err error) error {
	return fmt.Errorf("%w: %s game %s: %v", apperror.ErrStorage, op, id, err)
}

// Get returns the session for id, loading it from the repository if this
// process has not seen it yet. Concurrent loads of one id share a single
// repository call, so there is never more than one Session per game.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if ok {
		return sess, nil
	}

	v, err, _ := s.loads.Do(id.String(), func() (any, error) {
		s.mu.Lock()
		if sess, ok := s.sessions[id]; ok {
			s.mu.Unlock()
			return sess, nil
		}
		s.mu.Unlock()

		// shared by every waiting caller, so no single caller may cancel it
		g, err := s.repo.LoadGame(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		sess := newSession(g)
		s.sessions[id] = sess
		return sess, nil
	})
	if err != nil {
		if apperror.KindOf(err) == apperror.KindNotFound {
			return nil, err
		}
		return nil, storageErr("load", id, err)
	}
	return v.(*Session), nil
}

// Restore loads every unfinished game from the repository, for use at startup.
func (s *Store) Restore(ctx context.Context) (int, error) {
	n := 0
	for _, status := range []models.GameStatus{models.GameWaiting, models.GameInProgress} {
		games, err := s.repo.ListGames(ctx, status)
		if err != nil {
			return n, fmt.Errorf("%w: list %s games: %v", apperror.ErrStorage, status, err)
		}
		s.mu.Lock()
		for _, g := range games {
			if _, ok := s.sessions[g.ID]; !ok {
				s.sessions[g.ID] = newSession(g)
				n++
			}
		}
		s.mu.Unlock()
	}
	return n, nil
}

// mutate applies fn to a copy of the game under the game's lock, persists the
// copy and only then makes it visible. fn returning an error, or a failed save,
// leaves the session exactly as it was.
func (s *Store) mutate(ctx context.Context, id uuid.UUID, fn func(g *models.Game) (*models.MoveRecord, error)) (models.Game, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return models.Game{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	next := sess.game
	rec, err := fn(&next)
	if err != nil {
		return models.Game{}, err
	}
	if err := s.repo.SaveGame(ctx, next, rec); err != nil {
		s.log.WithFields(logrus.Fields{"game_id": id}).WithError(err).Error("failed to persist game, discarding change")
		return models.Game{}, storageErr("save", id, err)
	}
	sess.game = next
	if s.onCommit != nil {
		s.onCommit(next)
	}

	if rec != nil && s.actions != nil {
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
		if err := s.actions.PublishMove(pctx, *rec); err != nil {
			s.log.WithFields(logrus.Fields{"game_id": id, "move": rec.MoveNumber}).WithError(err).Warn("failed to publish move")
		}
		cancel()
	}
	return next, nil
}

// Create starts a new waiting game owned by playerA.
func (s *Store) Create(ctx context.Context, playerA uuid.UUID) (models.Game, error) {
	g := models.NewGame(uuid.New(), playerA, s.clock.Now())
	if err := s.repo.CreateGame(ctx, g); err != nil {
		return models.Game{}, storageErr("create", g.ID, err)
	}

	s.mu.Lock()
	s.sessions[g.ID] = newSession(g)
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{"game_id": g.ID, "user_id": playerA}).Info("game created")
	return g, nil
}

// Invite assigns playerB to a waiting game. Only player A may invite.
func (s *Store) Invite(ctx context.Context, id, inviter, playerB uuid.UUID) (models.Game, error) {
	return s.mutate(ctx, id, func(g *models.Game) (*models.MoveRecord, error) {
		switch {
		case inviter != g.PlayerA:
			return nil, apperror.ErrNotParticipant
		case playerB == inviter:
			return nil, apperror.ErrCannotInviteSelf
		case g.Status != models.GameWaiting:
			return nil, apperror.ErrGameNotWaiting
		case g.HasOpponent():
			return nil, apperror.ErrAlreadyInvited
		}
		g.PlayerB = playerB
		return nil, nil
	})
}

// Start moves a waiting game with both players into play. Player A moves first.
func (s *Store) Start(ctx context.Context, id, by uuid.UUID) (models.Game, error) {
	return s.mutate(ctx, id, func(g *models.Game) (*models.MoveRecord, error) {
		switch {
		case !g.IsParticipant(by):
			return nil, apperror.ErrNotParticipant
		case g.Status == models.GameFinished:
			return nil, apperror.ErrGameFinished
		case g.Status != models.GameWaiting:
			return nil, apperror.ErrGameNotWaiting
		case !g.HasOpponent():
			return nil, apperror.ErrOpponentMissing
		}
		g.Status = models.GameInProgress
		g.Turn = board.A
		g.StartedAt = s.clock.Now()
		return nil, nil
	})
}

// SubmitMove validates and applies a move for mover, persists it and returns the
// new state. Persistence does not depend on the caller staying connected.
func (s *Store) SubmitMove(ctx context.Context, id, mover uuid.UUID, from, to board.Coord) (models.Game, rules.Result, error) {
	var res rules.Result
	g, err := s.mutate(context.WithoutCancel(ctx), id, func(g *models.Game) (*models.MoveRecord, error) {
		side := g.SideOf(mover)
		if side == board.None {
			return nil, apperror.ErrNotParticipant
		}
		var err error
		res, err = rules.ValidateAndApply(g, side, board.Move{From: from, To: to})
		if err != nil {
			return nil, err
		}
		now := s.clock.Now()
		if g.Status == models.GameFinished {
			g.EndedAt = now
		}
		return &models.MoveRecord{
			GameID:     g.ID,
			MoverID:    mover,
			Side:       side,
			MoveNumber: g.MoveCount,
			From:       res.From,
			To:         res.Final,
			Captures:   res.Captures,
			Promoted:   res.Promoted,
			CreatedAt:  now,
		}, nil
	})
	if err != nil {
		return models.Game{}, rules.Result{}, err
	}
	if g.Status == models.GameFinished {
		s.log.WithFields(logrus.Fields{"game_id": id, "winner": g.WinnerID()}).Info("game won")
	}
	return g, res, nil
}

// Abandon ends the game with the other player as winner, whatever the board says.
func (s *Store) Abandon(ctx context.Context, id, quitter uuid.UUID) (models.Game, error) {
	g, err := s.mutate(context.WithoutCancel(ctx), id, func(g *models.Game) (*models.MoveRecord, error) {
		side := g.SideOf(quitter)
		switch {
		case side == board.None:
			return nil, apperror.ErrNotParticipant
		case g.Status == models.GameFinished:
			return nil, apperror.ErrGameFinished
		}
		winner := board.None
		if g.HasOpponent() {
			winner = side.Opponent()
		}
		g.Finish(winner, s.clock.Now())
		return nil, nil
	})
	if err != nil {
		return models.Game{}, err
	}
	s.log.WithFields(logrus.Fields{"game_id": id, "user_id": quitter}).Info("game abandoned")
	return g, nil
}

// Snapshot returns the current state of game id.
func (s *Store) Snapshot(ctx context.Context, id uuid.UUID) (models.Game, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return models.Game{}, err
	}
	return sess.Snapshot(), nil
}

// ListByStatus returns the loaded games in status, oldest first.
func (s *Store) ListByStatus(status models.GameStatus) []models.Game {
	s.mu.Lock()
	sessions := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.Unlock()

	var out []models.Game
	for _, sess := range sessions {
		if g := sess.Snapshot(); g.Status == status {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListByPlayer returns every stored game userID plays in, finished ones
// included, newest first.
func (s *Store) ListByPlayer(ctx context.Context, userID uuid.UUID) ([]models.Game, error) {
	games, err := s.repo.ListGamesByPlayer(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: list games of %s: %v", apperror.ErrStorage, userID, err)
	}
	return games, nil
}

// Evict drops a finished game from memory. Unfinished games are kept.
func (s *Store) Evict(id uuid.UUID) bool {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	s.mu.Unlock()
	if !ok || sess.Snapshot().Status != models.GameFinished {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions[id] != sess {
		return false
	}
	delete(s.sessions, id)
	return true
}
