package sc2

import "google.golang.org/protobuf/encoding/protowire"

// The proxy originates only a handful of frames itself: the debug rejection,
// the no-op step that stands in for a timed-out bot, and the save_replay and
// quit requests issued during teardown.

// BuildErrorResponse encodes a Response carrying only error strings, echoing
// the request id when the rejected request had one.
func BuildErrorResponse(req RequestInfo, errs ...string) []byte {
	var frame []byte
	for _, e := range errs {
		frame = protowire.AppendTag(frame, fieldResponseError, protowire.BytesType)
		frame = protowire.AppendString(frame, e)
	}
	if req.HasID {
		frame = protowire.AppendTag(frame, fieldMessageID, protowire.VarintType)
		frame = protowire.AppendVarint(frame, uint64(req.ID))
	}
	return frame
}

// BuildStepRequest encodes Request{step: RequestStep{count}}.
func BuildStepRequest(count uint32) []byte {
	// RequestStep: count = 1.
	var step []byte
	step = protowire.AppendTag(step, 1, protowire.VarintType)
	step = protowire.AppendVarint(step, uint64(count))

	var frame []byte
	frame = protowire.AppendTag(frame, RequestStep, protowire.BytesType)
	frame = protowire.AppendBytes(frame, step)
	return frame
}

// BuildSaveReplayRequest encodes Request{save_replay: {}}.
func BuildSaveReplayRequest() []byte {
	var frame []byte
	frame = protowire.AppendTag(frame, RequestSaveReplay, protowire.BytesType)
	frame = protowire.AppendBytes(frame, nil)
	return frame
}

// BuildQuitRequest encodes Request{quit: {}}.
func BuildQuitRequest() []byte {
	var frame []byte
	frame = protowire.AppendTag(frame, RequestQuit, protowire.BytesType)
	frame = protowire.AppendBytes(frame, nil)
	return frame
}
