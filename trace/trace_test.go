package trace

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/symcheck/symcheck/term"
)

func TestTraceJSON(t *testing.T) {
	k := term.MakeConstant("k")
	tr := Trace{
		{Kind: Observe, Sender: "Alice", Recipient: "Bob", Constant: "k", Value: k},
		{Kind: Inject, Phase: 1, Sender: "Alice", Recipient: "Bob", Constant: "m", Value: term.MakeConstant("attacker"), Honest: term.MakeConstant("m")},
	}
	buf, err := json.Marshal(tr)
	require.NoError(t, err)

	var decoded []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf, &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, float64(1), decoded[0]["step"])
	action := decoded[1]["action"].(map[string]interface{})
	require.Equal(t, "inject", action["tag"])
	require.Equal(t, "m", action["honest"])
	require.Equal(t, "attacker", action["value"])

	require.Equal(t, "1. observe Alice -> Bob: k = k", strings.Split(tr.String(), "\n")[0])
	require.True(t, tr.Contains(Action{Kind: Observe, Sender: "Alice", Recipient: "Bob", Constant: "k", Value: k}))
	require.False(t, tr.Equal(tr[:1]))
}

func TestLocalFileRecorder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.json")
	recorder, closeFn, err := MakeLocalFileRecorder(path)
	require.NoError(t, err)
	require.NoError(t, recorder.RecordEvent(Event{Query: "confidentiality? k", Result: "violated"}))
	require.NoError(t, recorder.RecordEvent(Event{Query: "confidentiality? m", Result: "verified"}))
	require.NoError(t, closeFn())
	require.Error(t, recorder.RecordEvent(Event{Query: "freshness? k"}), "writing after close fails")

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(contents)), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"result":"violated"`)
}
