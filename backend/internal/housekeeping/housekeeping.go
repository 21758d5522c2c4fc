// Package housekeeping flags large, old and possibly duplicated files from a
// single directory listing. Nothing here touches the network.
package housekeeping

import (
	"fmt"
	"time"

	"nasgate/backend/internal/types"
)

const (
	DefaultMinSizeMB     = 250
	DefaultOlderThanDays = 365

	bytesPerMB    = 1024 * 1024
	secondsPerDay = 24 * 3600
)

// ScanItem 是一个被标记的目录项
type ScanItem struct {
	Name    string `json:"name"`
	Size    int64  `json:"size"`
	Mtime   int64  `json:"mtime"`
	IsLarge bool   `json:"isLarge"`
	IsOld   bool   `json:"isOld"`
}

// ScanOptions 中的零值不会被替换为默认值，调用方负责填默认值
type ScanOptions struct {
	MinSizeMB     float64
	OlderThanDays float64
}

// Scan 保留 size >= minSizeMB 或 mtime 早于 olderThanDays 的项，顺序不变
func Scan(entries []types.FileEntry, opts ScanOptions, now time.Time) []ScanItem {
	minBytes := opts.MinSizeMB * bytesPerMB
	olderThan := opts.OlderThanDays * secondsPerDay
	nowUnix := now.Unix()

	items := make([]ScanItem, 0)
	for _, e := range entries {
		item := ScanItem{
			Name:    e.Name,
			Size:    e.Attrs.Size,
			Mtime:   e.Attrs.Mtime,
			IsLarge: float64(e.Attrs.Size) >= minBytes,
			IsOld:   float64(nowUnix-e.Attrs.Mtime) >= olderThan,
		}
		if item.IsLarge || item.IsOld {
			items = append(items, item)
		}
	}
	return items
}

// DupeMember 是重复候选组中的一项
type DupeMember struct {
	Name  string `json:"name"`
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
}

// Dupes 按 (name, size) 分组，只返回多于一项的组。
// 组按首次出现的顺序排列，组内保持列表顺序。
func Dupes(entries []types.FileEntry) [][]DupeMember {
	index := make(map[string]int)
	var buckets [][]DupeMember
	for _, e := range entries {
		if e.Attrs.Size < 0 {
			continue
		}
		key := fmt.Sprintf("%s|%d", e.Name, e.Attrs.Size)
		i, ok := index[key]
		if !ok {
			i = len(buckets)
			index[key] = i
			buckets = append(buckets, nil)
		}
		buckets[i] = append(buckets[i], DupeMember{Name: e.Name, Size: e.Attrs.Size, Mtime: e.Attrs.Mtime})
	}

	groups := make([][]DupeMember, 0)
	for _, b := range buckets {
		if len(b) > 1 {
			groups = append(groups, b)
		}
	}
	return groups
}
