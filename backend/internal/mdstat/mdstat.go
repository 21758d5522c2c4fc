package mdstat

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	mdDeviceRe = regexp.MustCompile(`^(md\d+)\s*:\s*(\S+)\s*(.*)$`)
	memberRe   = regexp.MustCompile(`^([^\[\s]+)\[(\d+)\](\([A-Z]\))?$`)
	statusRe   = regexp.MustCompile(`\[(\d+)/(\d+)\]\s+\[([U_]+)\]`)
	blocksRe   = regexp.MustCompile(`^(\d+)\s+blocks`)
	progressRe = regexp.MustCompile(`(resync|recovery|reshape|check)\s*=\s*([\d.]+)%`)
	speedRe    = regexp.MustCompile(`speed=(\S+)`)
	finishRe   = regexp.MustCompile(`finish=(\S+)`)
)

// Member 是阵列中的一块磁盘
type Member struct {
	Device string `json:"device"`
	Slot   int    `json:"slot"`
	State  string `json:"state"` // active, faulty, spare, write-mostly, replacement
}

// Sync 是正在进行的 resync/recovery/reshape/check
type Sync struct {
	Action  string  `json:"action"`
	Percent float64 `json:"percent"`
	Speed   string  `json:"speed,omitempty"`
	Finish  string  `json:"finish,omitempty"`
}

// Array 是 /proc/mdstat 中的一个 md 设备
type Array struct {
	Name     string   `json:"name"`
	State    string   `json:"state"`
	Level    string   `json:"level,omitempty"`
	Members  []Member `json:"members"`
	Blocks   int64    `json:"blocks,omitempty"`
	Total    int      `json:"total,omitempty"`
	Active   int      `json:"active,omitempty"`
	Map      string   `json:"map,omitempty"`
	Degraded bool     `json:"degraded"`
	ReadOnly bool     `json:"readOnly,omitempty"`
	Sync     *Sync    `json:"sync,omitempty"`
}

// Parse 解析 /proc/mdstat 的内容，无法识别的行会被忽略
func Parse(content string) []Array {
	arrays := make([]Array, 0)
	var current *Array

	flush := func() {
		if current != nil {
			current.Degraded = current.Degraded || strings.Contains(current.Map, "_")
			arrays = append(arrays, *current)
			current = nil
		}
	}

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			flush()
			continue
		}

		if m := mdDeviceRe.FindStringSubmatch(line); m != nil {
			flush()
			current = parseDeviceLine(m[1], m[2], m[3])
			continue
		}
		if current == nil {
			continue
		}

		if m := blocksRe.FindStringSubmatch(line); m != nil {
			current.Blocks, _ = strconv.ParseInt(m[1], 10, 64)
		}
		if m := statusRe.FindStringSubmatch(line); m != nil {
			current.Total, _ = strconv.Atoi(m[1])
			current.Active, _ = strconv.Atoi(m[2])
			current.Map = m[3]
			if current.Active < current.Total {
				current.Degraded = true
			}
		}
		if m := progressRe.FindStringSubmatch(line); m != nil {
			pct, _ := strconv.ParseFloat(m[2], 64)
			sync := &Sync{Action: m[1], Percent: pct}
			if s := speedRe.FindStringSubmatch(line); s != nil {
				sync.Speed = s[1]
			}
			if f := finishRe.FindStringSubmatch(line); f != nil {
				sync.Finish = f[1]
			}
			current.Sync = sync
		}
	}
	flush()
	return arrays
}

// parseDeviceLine 解析 "md2 : active raid5 sda3[0] sdb3[1](F)" 这样的行
func parseDeviceLine(name, state, rest string) *Array {
	a := &Array{Name: name, State: state, Members: []Member{}}
	fields := strings.Fields(rest)
	for _, f := range fields {
		if f == "(read-only)" || f == "(auto-read-only)" {
			a.ReadOnly = true
			continue
		}
		if m := memberRe.FindStringSubmatch(f); m != nil {
			slot, _ := strconv.Atoi(m[2])
			member := Member{Device: m[1], Slot: slot, State: "active"}
			switch m[3] {
			case "(F)":
				member.State = "faulty"
				a.Degraded = true
			case "(S)":
				member.State = "spare"
			case "(W)":
				member.State = "write-mostly"
			case "(R)":
				member.State = "replacement"
			}
			a.Members = append(a.Members, member)
			continue
		}
		if a.Level == "" && (strings.HasPrefix(f, "raid") || f == "linear" || f == "multipath") {
			a.Level = f
		}
	}
	return a
}
