package bot

import (
	"errors"
	"math/rand"
	"sync"

	"pylos/internal/domain"
)

// ErrNoMoves is returned when a brain is asked to choose from an empty set.
var ErrNoMoves = errors.New("no legal moves")

// Brain is the interface that all bot strategies must implement.
type Brain interface {
	CalculateMove(legal []domain.Move) (domain.Move, error)
}

// RandomBot picks a uniformly random legal move.
type RandomBot struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomBot seeds a RandomBot; equal seeds replay equal games.
func NewRandomBot(seed int64) *RandomBot {
	return &RandomBot{rng: rand.New(rand.NewSource(seed))}
}

func (b *RandomBot) CalculateMove(legal []domain.Move) (domain.Move, error) {
	if len(legal) == 0 {
		return domain.Move{}, ErrNoMoves
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return legal[b.rng.Intn(len(legal))], nil
}

// FirstBot always plays the first legal move. Useful for reproducible tests.
type FirstBot struct{}

func (FirstBot) CalculateMove(legal []domain.Move) (domain.Move, error) {
	if len(legal) == 0 {
		return domain.Move{}, ErrNoMoves
	}
	return legal[0], nil
}
