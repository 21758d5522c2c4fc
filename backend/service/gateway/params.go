package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"nasgate/backend/internal/types"
)

// Params 是所有操作共用的参数集合，HTTP body 和 WebSocket params 都解码到这里
type Params struct {
	Target     string  `json:"target"`
	Command    string  `json:"command"`
	RemotePath string  `json:"remotePath"`
	Path       string  `json:"path"`
	Content    *string `json:"content"`
	Encoding   string  `json:"encoding"`
	Dir        string  `json:"dir"`
	From       string  `json:"from"`
	To         string  `json:"to"`
	LocalPath  string  `json:"localPath"`

	MinSizeMB     Number `json:"minSizeMB"`
	OlderThanDays Number `json:"olderThanDays"`
	Lines         Number `json:"lines"`

	// DSM
	Name      string     `json:"name"`
	Paths     StringList `json:"paths"`
	Dest      string     `json:"dest"`
	Overwrite bool       `json:"overwrite"`
	Recursive bool       `json:"recursive"`
}

// DecodeParams 解码参数，空 body 和 null 视为没有参数
func DecodeParams(raw json.RawMessage) (*Params, error) {
	p := &Params{}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return p, nil
	}
	if err := json.Unmarshal(raw, p); err != nil {
		return nil, &types.ValidationError{Reason: "invalid params: " + err.Error()}
	}
	return p, nil
}

// require 检查字符串参数非空，content 只要求存在
func (p *Params) require(fields ...string) error {
	for _, f := range fields {
		if !p.has(f) {
			// 错误信息列出本次要求的全部字段，而不只是缺失的那个
			return &types.ValidationError{Fields: fields}
		}
	}
	return nil
}

func (p *Params) has(field string) bool {
	switch field {
	case "target":
		return p.Target != ""
	case "command":
		return p.Command != ""
	case "remotePath":
		return p.RemotePath != ""
	case "path":
		return p.Path != ""
	case "content":
		return p.Content != nil
	case "dir":
		return p.Dir != ""
	case "from":
		return p.From != ""
	case "to":
		return p.To != ""
	case "localPath":
		return p.LocalPath != ""
	case "name":
		return p.Name != ""
	case "paths":
		return len(p.Paths) > 0
	case "dest":
		return p.Dest != ""
	}
	return false
}

// Number 接受 JSON 数字或数字字符串
type Number struct {
	Value float64
	Set   bool
	Valid bool
}

func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = Number{}
		return nil
	}
	n.Set = true
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		n.Valid = false
		return nil
	}
	n.Value, n.Valid = v, true
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set || !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// Or 未设置时返回 def
func (n Number) Or(def float64) float64 {
	if !n.Set {
		return def
	}
	return n.Value
}

// StringList 接受字符串数组，或者一个逗号分隔的字符串
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	var list []string
	if err := json.Unmarshal(b, &list); err == nil {
		*l = list
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*l = nil
		return nil
	}
	*l = strings.Split(s, ",")
	return nil
}
