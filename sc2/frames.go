// Package sc2 inspects and builds SC2 control-protocol frames at the wire
// level. The proxy never needs the full API schema: it only classifies a
// frame by the top-level field number of the Request/Response oneof and digs
// out the handful of values the match loop depends on (status, game loop,
// player results, replay data).
package sc2

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Top-level field numbers of the Request oneof (s2clientprotocol/sc2api.proto).
const (
	RequestCreateGame    = 1
	RequestJoinGame      = 2
	RequestRestartGame   = 3
	RequestStartReplay   = 4
	RequestLeaveGame     = 5
	RequestQuickSave     = 6
	RequestQuickLoad     = 7
	RequestQuit          = 8
	RequestGameInfo      = 9
	RequestObservation   = 10
	RequestAction        = 11
	RequestStep          = 12
	RequestData          = 13
	RequestQuery         = 14
	RequestSaveReplay    = 15
	RequestReplayInfo    = 16
	RequestAvailableMaps = 17
	RequestSaveMap       = 18
	RequestPing          = 19
	RequestDebug         = 20
	RequestMapCommand    = 22
)

// Response oneof reuses the request numbering; these extra fields sit next
// to the oneof.
const (
	fieldMessageID      = 97
	fieldResponseError  = 98
	fieldResponseStatus = 99
)

// Status mirrors the engine's SC2APIProtocol.Status enum.
type Status int32

const (
	StatusNil      Status = 0
	StatusLaunched Status = 1
	StatusInitGame Status = 2
	StatusInGame   Status = 3
	StatusInReplay Status = 4
	StatusEnded    Status = 5
	StatusQuit     Status = 6
	StatusUnknown  Status = 99
)

// Result mirrors SC2APIProtocol.Result.
type Result int32

const (
	ResultVictory   Result = 1
	ResultDefeat    Result = 2
	ResultTie       Result = 3
	ResultUndecided Result = 4
)

func (r Result) String() string {
	switch r {
	case ResultVictory:
		return "Victory"
	case ResultDefeat:
		return "Defeat"
	case ResultTie:
		return "Tie"
	case ResultUndecided:
		return "Undecided"
	default:
		return fmt.Sprintf("Result(%d)", int32(r))
	}
}

// PlayerResult is one entry of ResponseObservation.player_result.
type PlayerResult struct {
	PlayerID uint32
	Result   Result
}

// RequestInfo is the classification of one bot->engine frame.
type RequestInfo struct {
	Type  protowire.Number
	ID    uint32
	HasID bool
}

func (r RequestInfo) IsDebug() bool { return r.Type == RequestDebug }

// ResponseInfo is the classification of one engine->bot frame plus the
// values the scheduler taps.
type ResponseInfo struct {
	Type    protowire.Number
	ID      uint32
	HasID   bool
	Status  Status
	Errors  []string
	payload []byte
}

// Observation summarises a ResponseObservation payload.
type Observation struct {
	GameLoop      uint32
	PlayerResults []PlayerResult
}

// SniffRequest walks the top-level fields of a serialized Request. The first
// field inside the oneof range determines the message type.
func SniffRequest(frame []byte) (RequestInfo, error) {
	info := RequestInfo{}
	err := walkFields(frame, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == fieldMessageID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			info.ID = uint32(v)
			info.HasID = true
		case num >= RequestCreateGame && num <= RequestMapCommand && info.Type == 0:
			info.Type = num
		}
		return nil
	})
	if err != nil {
		return RequestInfo{}, fmt.Errorf("malformed request frame: %w", err)
	}
	return info, nil
}

// SniffResponse walks the top-level fields of a serialized Response.
func SniffResponse(frame []byte) (ResponseInfo, error) {
	info := ResponseInfo{}
	err := walkFields(frame, func(num protowire.Number, typ protowire.Type, value []byte) error {
		switch {
		case num == fieldMessageID && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			info.ID = uint32(v)
			info.HasID = true
		case num == fieldResponseStatus && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			info.Status = Status(v)
		case num == fieldResponseError && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			info.Errors = append(info.Errors, string(v))
		case num >= RequestCreateGame && num <= RequestMapCommand && typ == protowire.BytesType && info.Type == 0:
			v, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			info.Type = num
			info.payload = v
		}
		return nil
	})
	if err != nil {
		return ResponseInfo{}, fmt.Errorf("malformed response frame: %w", err)
	}
	return info, nil
}

// ParseObservation extracts game_loop and player_result from a
// ResponseObservation payload previously sniffed from a response frame.
func (r ResponseInfo) ParseObservation() (Observation, error) {
	if r.Type != RequestObservation {
		return Observation{}, fmt.Errorf("frame is %s, not an observation", TypeName(r.Type))
	}

	obs := Observation{}
	// ResponseObservation: observation = 3, player_result = 4.
	err := walkFields(r.payload, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if typ != protowire.BytesType {
			return nil
		}
		v, n := protowire.ConsumeBytes(value)
		if n < 0 {
			return protowire.ParseError(n)
		}
		switch num {
		case 3:
			// Observation: game_loop = 9.
			return walkFields(v, func(num protowire.Number, typ protowire.Type, value []byte) error {
				if num == 9 && typ == protowire.VarintType {
					loop, n := protowire.ConsumeVarint(value)
					if n < 0 {
						return protowire.ParseError(n)
					}
					obs.GameLoop = uint32(loop)
				}
				return nil
			})
		case 4:
			// PlayerResult: player_id = 1, result = 2.
			pr := PlayerResult{}
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, value []byte) error {
				if typ != protowire.VarintType {
					return nil
				}
				val, n := protowire.ConsumeVarint(value)
				if n < 0 {
					return protowire.ParseError(n)
				}
				switch num {
				case 1:
					pr.PlayerID = uint32(val)
				case 2:
					pr.Result = Result(val)
				}
				return nil
			})
			if err != nil {
				return err
			}
			obs.PlayerResults = append(obs.PlayerResults, pr)
		}
		return nil
	})
	if err != nil {
		return Observation{}, fmt.Errorf("malformed observation payload: %w", err)
	}
	return obs, nil
}

// ReplayData extracts ResponseSaveReplay.data (field 1).
func (r ResponseInfo) ReplayData() ([]byte, error) {
	if r.Type != RequestSaveReplay {
		return nil, fmt.Errorf("frame is %s, not a save_replay response", TypeName(r.Type))
	}

	var data []byte
	err := walkFields(r.payload, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num == 1 && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(value)
			if n < 0 {
				return protowire.ParseError(n)
			}
			data = v
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("malformed save_replay payload: %w", err)
	}
	return data, nil
}

// JoinPlayerName extracts RequestJoinGame.player_name (field 7) from a
// request frame. Empty when the frame is not a join or carries no name.
func JoinPlayerName(frame []byte) string {
	var name string
	_ = walkFields(frame, func(num protowire.Number, typ protowire.Type, value []byte) error {
		if num != RequestJoinGame || typ != protowire.BytesType {
			return nil
		}
		join, n := protowire.ConsumeBytes(value)
		if n < 0 {
			return protowire.ParseError(n)
		}
		return walkFields(join, func(num protowire.Number, typ protowire.Type, value []byte) error {
			if num == 7 && typ == protowire.BytesType {
				v, n := protowire.ConsumeBytes(value)
				if n < 0 {
					return protowire.ParseError(n)
				}
				name = string(v)
			}
			return nil
		})
	})
	return name
}

// walkFields iterates the top-level fields of a protobuf message, handing
// each field's number, wire type and remaining bytes to fn. fn consumes the
// value itself; walkFields skips over it regardless.
func walkFields(data []byte, fn func(num protowire.Number, typ protowire.Type, value []byte) error) error {
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return protowire.ParseError(n)
		}
		data = data[n:]

		if err := fn(num, typ, data); err != nil {
			return err
		}

		skip := protowire.ConsumeFieldValue(num, typ, data)
		if skip < 0 {
			return protowire.ParseError(skip)
		}
		data = data[skip:]
	}
	return nil
}

// TypeName names a request/response oneof field for logs.
func TypeName(num protowire.Number) string {
	switch num {
	case RequestCreateGame:
		return "create_game"
	case RequestJoinGame:
		return "join_game"
	case RequestRestartGame:
		return "restart_game"
	case RequestStartReplay:
		return "start_replay"
	case RequestLeaveGame:
		return "leave_game"
	case RequestQuickSave:
		return "quick_save"
	case RequestQuickLoad:
		return "quick_load"
	case RequestQuit:
		return "quit"
	case RequestGameInfo:
		return "game_info"
	case RequestObservation:
		return "observation"
	case RequestAction:
		return "action"
	case RequestStep:
		return "step"
	case RequestData:
		return "data"
	case RequestQuery:
		return "query"
	case RequestSaveReplay:
		return "save_replay"
	case RequestReplayInfo:
		return "replay_info"
	case RequestAvailableMaps:
		return "available_maps"
	case RequestSaveMap:
		return "save_map"
	case RequestPing:
		return "ping"
	case RequestDebug:
		return "debug"
	case RequestMapCommand:
		return "map_command"
	default:
		return fmt.Sprintf("field_%d", num)
	}
}
