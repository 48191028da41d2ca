package gateway

import (
	"context"
	"errors"

	"arenaclient/applog"
	"arenaclient/sc2"
	"arenaclient/session"
	"arenaclient/transport"

	"go.uber.org/zap"
)

// runBot peeks the bot's first frame for the player name, routes the
// connection to the session awaiting that player and parks until the session
// releases it. The peeked frame is handed on unconsumed.
func (g *Gateway) runBot(ctx context.Context, logger *applog.Logger, conn transport.Conn) {
	readCtx, cancel := context.WithTimeout(ctx, g.cfg.BotJoinTimeout)
	first, err := conn.Read(readCtx)
	cancel()
	if err != nil {
		logger.Warn("Bot sent nothing before the join deadline", zap.Error(err))
		_ = conn.Close()
		return
	}

	name := ""
	if first.Kind == transport.KindBinary {
		if info, err := sc2.SniffRequest(first.Data); err == nil && info.Type == sc2.RequestJoinGame {
			name = sc2.JoinPlayerName(first.Data)
		}
	}
	logger = logger.With(zap.String("player", name))

	sess, slot, err := g.attach(name, transport.Prepend(first, conn))
	if err != nil {
		logger.Warn("No session awaiting this bot", zap.Error(err))
		_ = conn.Close()
		return
	}

	logger.Info("Bot attached",
		zap.String("session", sess.ID), zap.Int("slot", slot))
	g.notifyBotConnected(ctx, sess.ID)

	// The session owns the connection now; hold the handler open until the
	// match is over or the server stops.
	select {
	case <-sess.Done():
	case <-ctx.Done():
	}
}

var errNoAwaitingSession = errors.New("no session awaiting players")

// attach retries once to cover the race where two bots grab the same slot.
func (g *Gateway) attach(name string, conn transport.Conn) (*session.Session, int, error) {
	var lastErr error = errNoAwaitingSession
	for attempt := 0; attempt < 2; attempt++ {
		sess := g.coord.FindAwaiting(name)
		if sess == nil {
			return nil, 0, lastErr
		}
		slot, err := sess.AttachBot(name, conn)
		if err == nil {
			return sess, slot, nil
		}
		lastErr = err
	}
	return nil, 0, lastErr
}
