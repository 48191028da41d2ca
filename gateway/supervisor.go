package gateway

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"arenaclient/applog"
	"arenaclient/session"
	"arenaclient/transport"

	"go.uber.org/zap"
)

// finalizeTimeout bounds result persistence for matches whose supervisor is
// already gone.
const finalizeTimeout = 10 * time.Second

// supervisorLink serializes writes to one supervisor connection: the match
// loop and bot-attach notifications write concurrently.
type supervisorLink struct {
	mu   sync.Mutex
	conn transport.Conn
}

func (l *supervisorLink) send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn.Write(ctx, transport.Text(string(data)))
}

// runSupervisor serves one supervisor connection: match requests arrive as
// JSON text messages and each accepted request gets exactly one terminal
// reply, either the result payload or an explicit error.
func (g *Gateway) runSupervisor(ctx context.Context, conn transport.Conn) {
	defer conn.Close()

	logger := applog.FromContext(ctx).With(zap.String("remote", conn.RemoteAddr()))
	link := &supervisorLink{conn: conn}

	if err := link.send(ctx, map[string]string{"Status": "Connected"}); err != nil {
		return
	}

	msgs, _ := readLoop(ctx, conn)

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				logger.Info("Supervisor disconnected")
				return
			}
			if msg.Kind != transport.KindText {
				continue
			}
			if isQuitCommand(msg.Data) {
				// No match in flight, nothing to abort.
				continue
			}

			cfg, err := session.ParseMatchConfig(msg.Data)
			if err != nil {
				logger.Warn("Bad match request", zap.Error(err))
				_ = link.send(ctx, map[string]string{"Error": err.Error()})
				continue
			}

			g.runMatch(ctx, logger, link, msgs, cfg)

		case <-ctx.Done():
			return
		}
	}
}

// runMatch drives one accepted request to its single terminal reply.
func (g *Gateway) runMatch(ctx context.Context, logger *applog.Logger, link *supervisorLink, msgs <-chan transport.Message, cfg session.MatchConfig) {
	sess, resultCh, err := g.coord.StartMatch(ctx, cfg)
	if err != nil {
		logger.Warn("Match rejected", zap.Error(err))
		_ = link.send(ctx, map[string]string{"Error": err.Error()})
		return
	}

	g.registerSupervisor(sess.ID, link)
	defer g.unregisterSupervisor(sess.ID)

	for {
		select {
		case msg, ok := <-msgs:
			if !ok {
				// A lost supervisor cannot receive the result, but the row
				// must still reach the result log.
				logger.Warn("Supervisor lost mid-match, aborting session")
				sess.Abort()
				g.finalizeUndelivered(cfg, <-resultCh)
				return
			}
			if msg.Kind == transport.KindText && isQuitCommand(msg.Data) {
				logger.Info("Supervisor requested quit")
				sess.Abort()
				continue
			}
			_ = link.send(ctx, map[string]string{"Error": "match already in progress"})

		case res := <-resultCh:
			payload := g.agg.Finalize(ctx, cfg, res)
			if err := link.send(ctx, payload); err != nil {
				logger.Warn("Could not deliver result", zap.Error(err))
			}
			return

		case <-ctx.Done():
			sess.Abort()
			g.finalizeUndelivered(cfg, <-resultCh)
			return
		}
	}
}

// finalizeUndelivered records a result whose supervisor can no longer take
// delivery. Persistence happens on every path out of a match; only the reply
// is skipped.
func (g *Gateway) finalizeUndelivered(cfg session.MatchConfig, res session.MatchResult) {
	fctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	_ = g.agg.Finalize(fctx, cfg, res)
}

// readLoop pumps one connection into a channel so select-based consumers can
// mix reads with other events. The message channel closes on read failure.
func readLoop(ctx context.Context, conn transport.Conn) (<-chan transport.Message, <-chan error) {
	msgs := make(chan transport.Message)
	errs := make(chan error, 1)

	go func() {
		for {
			msg, err := conn.Read(ctx)
			if err != nil {
				errs <- err
				close(msgs)
				return
			}
			select {
			case msgs <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
	return msgs, errs
}

// isQuitCommand recognizes the supervisor's abort command, sent either as a
// bare word or a JSON string.
func isQuitCommand(data []byte) bool {
	text := strings.TrimSpace(string(data))
	text = strings.Trim(text, `"`)
	return strings.EqualFold(text, "quit")
}
