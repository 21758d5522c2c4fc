package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Event 是一次操作尝试的审计记录。
// HTTP 请求填 Route，WebSocket 消息填 Method。
type Event struct {
	Kind     string
	Route    string
	Method   string
	Target   string
	OK       bool
	Duration time.Duration
	Error    string
	// Fields 是各操作自己的附加字段，例如 remotePath、code
	Fields map[string]any
}

// Recorder 是审计写入的接口，关闭审计时使用 Nop
type Recorder interface {
	Append(ev Event) (string, error)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Append(Event) (string, error) { return "", nil }

// Sink 按本地日期把事件追加到 <dir>/YYYY-MM-DD.jsonl，每个事件一行
type Sink struct {
	mu  sync.Mutex
	dir string
	now func() time.Time
}

func NewSink(dir string) *Sink {
	return &Sink{dir: dir, now: time.Now}
}

// Append 写入一行 JSON 并立即 Sync，返回写入的文件路径
func (s *Sink) Append(ev Event) (string, error) {
	now := s.now()
	line, err := encode(ev, now)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o750); err != nil {
		return "", fmt.Errorf("create audit dir: %w", err)
	}
	path := filepath.Join(s.dir, now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return "", fmt.Errorf("open audit file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return "", fmt.Errorf("write audit event: %w", err)
	}
	if err := f.Sync(); err != nil {
		return "", fmt.Errorf("sync audit file: %w", err)
	}
	return path, nil
}

// encode 生成一行 JSON。固定字段覆盖 Fields 中的同名键。
func encode(ev Event, now time.Time) ([]byte, error) {
	m := make(map[string]any, len(ev.Fields)+8)
	for k, v := range ev.Fields {
		m[k] = v
	}
	m["ts"] = now.UTC().Format(time.RFC3339Nano)
	m["kind"] = ev.Kind
	m["ok"] = ev.OK
	m["durMs"] = ev.Duration.Milliseconds()
	if ev.Route != "" {
		m["route"] = ev.Route
	}
	if ev.Method != "" {
		m["method"] = ev.Method
	}
	if ev.Target != "" {
		m["target"] = ev.Target
	}
	if ev.Error != "" {
		m["error"] = ev.Error
	}
	line, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode audit event: %w", err)
	}
	return append(line, '\n'), nil
}
