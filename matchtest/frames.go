// Package matchtest provides an in-process fake engine, scripted bots and
// frame builders for exercising match sessions without a real SC2 install.
package matchtest

import (
	"arenaclient/sc2"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	fieldMessageID      = 97
	fieldResponseStatus = 99
)

func appendSub(frame []byte, num protowire.Number, payload []byte) []byte {
	frame = protowire.AppendTag(frame, num, protowire.BytesType)
	return protowire.AppendBytes(frame, payload)
}

func appendVarint(frame []byte, num protowire.Number, v uint64) []byte {
	frame = protowire.AppendTag(frame, num, protowire.VarintType)
	return protowire.AppendVarint(frame, v)
}

// Request builds an empty request of the given type, e.g. a bare step or
// observation request.
func Request(typ protowire.Number) []byte {
	return appendSub(nil, typ, nil)
}

// JoinRequest builds Request{join_game} carrying the player name (field 7 of
// RequestJoinGame), which the gateway uses to match the bot to its slot.
func JoinRequest(playerName string) []byte {
	var join []byte
	join = protowire.AppendTag(join, 7, protowire.BytesType)
	join = protowire.AppendString(join, playerName)
	return appendSub(nil, sc2.RequestJoinGame, join)
}

// Response builds an empty response of the given type with a status.
func Response(typ protowire.Number, status sc2.Status) []byte {
	frame := appendSub(nil, typ, nil)
	return appendVarint(frame, fieldResponseStatus, uint64(status))
}

// ObservationResponse builds a ResponseObservation with the given step
// counter and optional player results (non-empty results = game over).
func ObservationResponse(gameLoop uint32, status sc2.Status, results ...sc2.PlayerResult) []byte {
	var observation []byte
	observation = appendVarint(observation, 9, uint64(gameLoop))

	var payload []byte
	payload = appendSub(payload, 3, observation)
	for _, pr := range results {
		var prPayload []byte
		prPayload = appendVarint(prPayload, 1, uint64(pr.PlayerID))
		prPayload = appendVarint(prPayload, 2, uint64(pr.Result))
		payload = appendSub(payload, 4, prPayload)
	}

	frame := appendSub(nil, sc2.RequestObservation, payload)
	return appendVarint(frame, fieldResponseStatus, uint64(status))
}

// SaveReplayResponse builds a ResponseSaveReplay carrying replay bytes.
func SaveReplayResponse(data []byte) []byte {
	var payload []byte
	payload = appendSub(payload, 1, data)
	return appendSub(nil, sc2.RequestSaveReplay, payload)
}
