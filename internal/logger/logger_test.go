package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	s := bufio.NewScanner(buf)
	var out []map[string]any
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m), "invalid JSON line: %s", line)
		out = append(out, m)
	}
	require.NoError(t, s.Err())
	return out
}

func TestLogLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	UseWriter(&buf)
	require.NoError(t, SetLevel("info"))

	Debug("debug message should be filtered")
	Info("info message", "k", 1)

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "info message", records[0]["message"])

	buf.Reset()
	require.NoError(t, SetLevel("debug"))
	Debug("visible debug", "a", 2)
	records = decodeLines(t, &buf)
	require.Len(t, records, 1)
	assert.Equal(t, "debug", records[0]["level"])
}

func TestFieldExtraction(t *testing.T) {
	var buf bytes.Buffer
	UseWriter(&buf)
	require.NoError(t, SetLevel("debug"))

	l := WithSession(Logger(), "s1", "192.168.1.50:7236")
	l2 := WithMessage(&l, "M6", "SETUP", 4)
	l2.Info().Msg("hello world")

	records := decodeLines(t, &buf)
	require.Len(t, records, 1)
	rec := records[0]
	for _, k := range []string{"session_id", "peer_addr", "m_kind", "method", "cseq"} {
		assert.Contains(t, rec, k)
	}
	assert.Equal(t, "s1", rec["session_id"])
	assert.Equal(t, "M6", rec["m_kind"])
	assert.Equal(t, "SETUP", rec["method"])
}

func TestParseLevel(t *testing.T) {
	cases := map[string]string{
		"debug": "debug",
		"info":  "info",
		"warn":  "warn",
		"error": "error",
	}
	for in, expect := range cases {
		require.NoError(t, SetLevel(in))
		assert.Equal(t, expect, Level())
	}
	assert.Error(t, SetLevel("bogus"))
}
