package matchtest

import (
	"context"
	"time"

	"arenaclient/sc2"
	"arenaclient/transport"
)

// BotScript drives one side of a match like a ladder bot would: join the
// game, then step and observe until the engine reports results or the script
// says otherwise.
type BotScript struct {
	Name string
	// ThinkTime is slept before every exchange once the game has started.
	ThinkTime time.Duration
	// StallAt adds extra delay before the given exchange index, for
	// provoking budget overruns at a known point.
	StallAt map[int]time.Duration
	// DisconnectAfter closes the connection abruptly after that many
	// exchanges (0 = play to the end).
	DisconnectAfter int
	// QuitAfter sends Request{quit} after that many exchanges.
	QuitAfter int
	// MaxExchanges stops the script even without a game over (0 = no cap).
	MaxExchanges int
	// Stepped sends a step request before each observation.
	Stepped bool
	// Debug sends a debug request each exchange before stepping.
	Debug bool
}

type BotResult struct {
	Exchanges int
	FinalLoop uint32
	Results   []sc2.PlayerResult
	Err       error
}

// RunBot executes the script against the bot side of a bridge. It returns
// when the game ends, the script completes or the connection fails.
func RunBot(ctx context.Context, conn transport.Conn, script BotScript) BotResult {
	var res BotResult

	if err := conn.Write(ctx, transport.Binary(JoinRequest(script.Name))); err != nil {
		res.Err = err
		return res
	}
	if _, err := conn.Read(ctx); err != nil {
		res.Err = err
		return res
	}

	for i := 0; ; i++ {
		if script.MaxExchanges > 0 && i >= script.MaxExchanges {
			return res
		}
		if script.DisconnectAfter > 0 && i >= script.DisconnectAfter {
			_ = conn.Close()
			return res
		}
		if script.QuitAfter > 0 && i >= script.QuitAfter {
			if err := conn.Write(ctx, transport.Binary(Request(sc2.RequestQuit))); err != nil {
				res.Err = err
				return res
			}
			_, res.Err = conn.Read(ctx)
			return res
		}

		delay := script.ThinkTime
		if extra, ok := script.StallAt[i]; ok {
			delay += extra
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				res.Err = ctx.Err()
				return res
			}
		}

		if script.Debug {
			if err := exchange(ctx, conn, Request(sc2.RequestDebug)); err != nil {
				res.Err = err
				return res
			}
		}

		if script.Stepped {
			if err := exchange(ctx, conn, sc2.BuildStepRequest(1)); err != nil {
				res.Err = err
				return res
			}
		}

		if err := conn.Write(ctx, transport.Binary(Request(sc2.RequestObservation))); err != nil {
			res.Err = err
			return res
		}
		msg, err := conn.Read(ctx)
		if err != nil {
			res.Err = err
			return res
		}
		res.Exchanges = i + 1

		info, err := sc2.SniffResponse(msg.Data)
		if err != nil {
			continue
		}
		obs, err := info.ParseObservation()
		if err != nil {
			continue
		}
		res.FinalLoop = obs.GameLoop
		if len(obs.PlayerResults) > 0 {
			res.Results = obs.PlayerResults
			return res
		}
	}
}

func exchange(ctx context.Context, conn transport.Conn, frame []byte) error {
	if err := conn.Write(ctx, transport.Binary(frame)); err != nil {
		return err
	}
	_, err := conn.Read(ctx)
	return err
}
