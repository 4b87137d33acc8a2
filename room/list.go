package room

import (
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/player"
)

// List is an immutable view over a set of players. Filtering a List never
// changes the room it came from.
type List struct {
	players []*player.Player
	logger  logger.Logger
}

func newList(players []*player.Player, l logger.Logger) *List {
	return &List{players: players, logger: l}
}

// Apply calls fn for every player in the view.
//
// Returns:
//   - The receiver, for chaining
func (l *List) Apply(fn func(p *player.Player)) *List {
	for _, p := range l.players {
		fn(p)
	}

	return l
}

// Filter returns a new view with the players satisfying pred.
func (l *List) Filter(pred func(p *player.Player) bool) *List {
	out := make([]*player.Player, 0, len(l.players))
	for _, p := range l.players {
		if pred(p) {
			out = append(out, p)
		}
	}

	return newList(out, l.logger)
}

// Broadcast sends pk tagged event to every player in the view. Each copy is
// stamped with its recipient's identity. A failed send is logged and does
// not stop delivery to the others.
func (l *List) Broadcast(event string, pk packet.Packet) {
	for _, p := range l.players {
		if err := p.Send(event, pk); err != nil {
			l.logger.Debug("broadcast send dropped",
				logger.Field{Key: "player", Value: p.ID()},
				logger.Field{Key: "event", Value: event},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

// Len returns the number of players in the view.
func (l *List) Len() int {
	return len(l.players)
}

// Players returns a copy of the players in the view.
func (l *List) Players() []*player.Player {
	return append([]*player.Player(nil), l.players...)
}
