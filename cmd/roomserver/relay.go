package main

import (
	"github.com/cyberinferno/go-rooms/logger"
	"github.com/cyberinferno/go-rooms/packet"
	"github.com/cyberinferno/go-rooms/player"
	"github.com/cyberinferno/go-rooms/room"
)

// Events understood by relayGame.
const (
	eventGameStart = "game_start"
	eventGameEnd   = "game_end"
	eventRelay     = "relay"
	eventEnd       = "end"

	fromKey = "from"
)

// relayGame forwards every "relay" packet to the other players of the room
// and ends the match when a player sends "end" or the room empties.
type relayGame struct {
	logger logger.Logger
}

func newRelayGame(log logger.Logger) *relayGame {
	return &relayGame{logger: log}
}

func (g *relayGame) Run(r *room.Room) {
	ids := make([]any, 0, r.Len())
	for _, p := range r.Players() {
		ids = append(ids, p.ID())
	}
	r.Broadcast(eventGameStart, packet.Packet{"players": ids})

	// senderId is restamped per recipient, so the origin travels as "from".
	r.RegisterReceiveEvent(eventRelay, func(pk packet.Packet, from *player.Player) {
		out := pk.Clone()
		out[fromKey] = from.ID()
		r.Filter(func(p *player.Player) bool { return p.ID() != from.ID() }).
			Broadcast(eventRelay, out)
	})
	r.RegisterReceiveEvent(eventEnd, func(_ packet.Packet, from *player.Player) {
		g.logger.Debug("player ended match",
			logger.Field{Key: "room", Value: r.ID()},
			logger.Field{Key: "player", Value: from.ID()})
		r.Stop()
	})
}

func (g *relayGame) Close(r *room.Room) {
	r.Broadcast(eventGameEnd, packet.Packet{})
}

// OnPlayerLeave tells the others and ends a started match once nobody is
// left.
func (g *relayGame) OnPlayerLeave(r *room.Room, p *player.Player) {
	r.Broadcast(room.EventPlayerLeave, packet.Packet{room.PlayerIDKey: p.ID()})
	if r.Len() == 0 {
		r.Stop()
	}
}
