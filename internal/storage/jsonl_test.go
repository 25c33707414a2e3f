package storage

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Address string `json:"address"`
	Rank    int    `json:"rank"`
}

func TestJSONLAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "board.jsonl")
	sink := NewJSONL[row](path)

	require.NoError(t, sink.PutBatch([]row{{Address: "0xa", Rank: 1}}))
	require.NoError(t, sink.PutBatch([]row{{Address: "0xb", Rank: 2}}))
	require.NoError(t, sink.PutBatch(nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, []string{`{"address":"0xa","rank":1}`, `{"address":"0xb","rank":2}`}, lines)
}

func TestJSONLStdout(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONL[row]("")
	sink.stdout = &buf

	require.NoError(t, sink.PutBatch([]row{{Address: "0xc", Rank: 3}}))
	assert.Equal(t, "{\"address\":\"0xc\",\"rank\":3}\n", buf.String())
}
