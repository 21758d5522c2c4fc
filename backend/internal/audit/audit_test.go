package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) []map[string]any {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]any
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

// TestAppendCreatesDailyFile 测试按日期写入 jsonl 并自动创建目录
func TestAppendCreatesDailyFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "codex", "audit")
	sink := NewSink(dir)
	fixed := time.Date(2026, 3, 14, 9, 26, 53, 0, time.Local)
	sink.now = func() time.Time { return fixed }

	path, err := sink.Append(Event{
		Kind:     "http",
		Route:    "/tools/exec",
		Target:   "dev",
		OK:       true,
		Duration: 1500 * time.Millisecond,
		Fields:   map[string]any{"code": 0},
	})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "2026-03-14.jsonl"), path)

	_, err = sink.Append(Event{Kind: "ws", Method: "nas.read", OK: false, Error: "unknown target: x"})
	require.NoError(t, err)

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	assert.Equal(t, "http", lines[0]["kind"])
	assert.Equal(t, "/tools/exec", lines[0]["route"])
	assert.Equal(t, true, lines[0]["ok"])
	assert.Equal(t, float64(1500), lines[0]["durMs"])
	assert.Equal(t, float64(0), lines[0]["code"])
	assert.Equal(t, fixed.UTC().Format(time.RFC3339Nano), lines[0]["ts"])
	assert.NotContains(t, lines[0], "method")

	assert.Equal(t, "nas.read", lines[1]["method"])
	assert.Equal(t, "unknown target: x", lines[1]["error"])
	assert.NotContains(t, lines[1], "target")
}

// TestAppendConcurrent 测试并发写入时每个事件占一行
func TestAppendConcurrent(t *testing.T) {
	sink := NewSink(t.TempDir())

	var wg sync.WaitGroup
	var path string
	var mu sync.Mutex
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := sink.Append(Event{Kind: "http", Route: "/health", OK: true, Fields: map[string]any{"i": i}})
			assert.NoError(t, err)
			mu.Lock()
			path = p
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Len(t, readLines(t, path), 20)
}

// TestAppendUnwritableDir 测试目录无法创建时返回错误
func TestAppendUnwritableDir(t *testing.T) {
	blocker := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := NewSink(filepath.Join(blocker, "audit")).Append(Event{Kind: "http"})
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	path, err := Nop{}.Append(Event{})
	assert.NoError(t, err)
	assert.Empty(t, path)
}
