package results

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"arenaclient/session"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleConfig() session.MatchConfig {
	return session.MatchConfig{
		Map:     "AutomatonLE",
		Player1: "alice",
		Player2: "bob",
		MatchID: 42,
	}
}

func sampleResult() session.MatchResult {
	return session.MatchResult{
		MatchID:      42,
		Outcome:      session.OutcomePlayer1Win,
		Reason:       session.ReasonGameEnd,
		Loser:        "bob",
		Steps:        224,
		Elapsed:      3 * time.Second,
		Strikes:      [2]int{1, 0},
		AvgFrameTime: [2]float64{0.01, 0.02},
	}
}

func TestFinalizeBuildsPayload(t *testing.T) {
	a := NewAggregator(filepath.Join(t.TempDir(), "results.tsv"), nil)

	payload := a.Finalize(context.Background(), sampleConfig(), sampleResult())

	assert.Equal(t, "Complete", payload.Status)
	assert.Equal(t, int64(42), payload.MatchID)
	assert.Equal(t, uint32(224), payload.GameTime)
	assert.InDelta(t, 10.0, payload.GameTimeSeconds, 0.001)
	assert.Equal(t, map[string]string{"alice": "Victory", "bob": "Defeat"}, payload.Result)
	assert.Equal(t, 0.01, payload.AverageFrameTime["alice"])
	assert.Equal(t, 0.02, payload.AverageFrameTime["bob"])
}

func TestFinalizeAppendsRow(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "results.tsv")
	a := NewAggregator(logPath, nil)

	a.Finalize(context.Background(), sampleConfig(), sampleResult())
	a.Finalize(context.Background(), sampleConfig(), sampleResult())

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	fields := strings.Split(lines[0], "\t")
	require.Len(t, fields, 9)
	assert.Equal(t, "42", fields[1])
	assert.Equal(t, "Player1Win", fields[2])
	assert.Equal(t, "GameEnd", fields[3])
	assert.Equal(t, "224", fields[4])
	assert.Equal(t, "1", fields[6])
	assert.Equal(t, "0", fields[7])
}

func TestFinalizeSurvivesUnwritableLog(t *testing.T) {
	a := NewAggregator("/proc/definitely-unwritable/results.tsv", nil)

	payload := a.Finalize(context.Background(), sampleConfig(), sampleResult())
	assert.Equal(t, "Complete", payload.Status)
}

func TestReplayVerification(t *testing.T) {
	dir := t.TempDir()

	good := filepath.Join(dir, "good.SC2Replay")
	require.NoError(t, os.WriteFile(good, []byte("data"), 0o644))
	empty := filepath.Join(dir, "empty.SC2Replay")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))

	assert.Equal(t, good, verifyReplay(good))
	assert.Empty(t, verifyReplay(empty))
	assert.Empty(t, verifyReplay(filepath.Join(dir, "missing.SC2Replay")))
	assert.Empty(t, verifyReplay(""))
	assert.Empty(t, verifyReplay(dir))
}

func TestPlayerVocabulary(t *testing.T) {
	cfg := sampleConfig()

	tests := []struct {
		name    string
		outcome session.Outcome
		reason  session.Reason
		want    map[string]string
	}{
		{"strike forfeit", session.OutcomePlayer2Win, session.ReasonTimeoutLimitExceeded,
			map[string]string{"alice": "Timeout", "bob": "Victory"}},
		{"disconnect", session.OutcomePlayer1Win, session.ReasonDisconnect,
			map[string]string{"alice": "Victory", "bob": "Crash"}},
		{"engine crash", session.OutcomeCrash, session.ReasonEngineCrash,
			map[string]string{"alice": "SC2Crash", "bob": "SC2Crash"}},
		{"double timeout", session.OutcomeTie, session.ReasonDoubleTimeout,
			map[string]string{"alice": "Timeout", "bob": "Timeout"}},
		{"max game time", session.OutcomeTie, session.ReasonMaxGameTime,
			map[string]string{"alice": "Tie", "bob": "Tie"}},
		{"natural tie", session.OutcomeTie, session.ReasonGameEnd,
			map[string]string{"alice": "Tie", "bob": "Tie"}},
		{"launch failure", session.OutcomeError, session.ReasonEngineLaunchFailed,
			map[string]string{"alice": "InitializationError", "bob": "InitializationError"}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res := session.MatchResult{Outcome: tc.outcome, Reason: tc.reason}
			assert.Equal(t, tc.want, playerVocabulary(cfg, res))
		})
	}
}

func TestUploaderPostsPayload(t *testing.T) {
	var got Payload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, "secret")
	a := NewAggregator(filepath.Join(t.TempDir(), "results.tsv"), u)

	payload := a.Finalize(context.Background(), sampleConfig(), sampleResult())
	assert.Equal(t, payload.MatchID, got.MatchID)
	assert.Equal(t, "Bearer secret", auth)
}

func TestUploaderReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	u := NewUploader(srv.URL, "")
	err := u.Upload(context.Background(), Payload{})
	assert.Error(t, err)
}

func TestTrafficCaptureRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traffic.zst")

	tc, err := NewTrafficCapture(path)
	require.NoError(t, err)

	tc.Record("alice", true, []byte("request"))
	tc.Record("bob", false, []byte("response"))
	require.NoError(t, tc.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	type record struct {
		dir    byte
		player string
		frame  string
	}
	var records []record
	for {
		var hdr [9]byte
		if _, err := io.ReadFull(dec, hdr[:]); err == io.EOF {
			break
		} else if err != nil {
			t.Fatal(err)
		}
		name := make([]byte, binary.LittleEndian.Uint32(hdr[1:5]))
		frame := make([]byte, binary.LittleEndian.Uint32(hdr[5:9]))
		_, err = io.ReadFull(dec, name)
		require.NoError(t, err)
		_, err = io.ReadFull(dec, frame)
		require.NoError(t, err)
		records = append(records, record{hdr[0], string(name), string(frame)})
	}

	require.Len(t, records, 2)
	assert.Equal(t, record{1, "alice", "request"}, records[0])
	assert.Equal(t, record{0, "bob", "response"}, records[1])
}
