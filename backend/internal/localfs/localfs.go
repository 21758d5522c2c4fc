// Package localfs 读写网关所在主机上的文件，路径限制在 base 目录和允许列表内。
package localfs

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/spf13/afero"

	"nasgate/backend/internal/types"
)

// Options 对应 LOCAL_BASE_DIR、LOCAL_ALLOW_ABS 和 LOCAL_ALLOWLIST
type Options struct {
	BaseDir   string // 为空时使用当前工作目录
	AllowAbs  bool
	Allowlist []string
}

// FS 是带路径约束的本地文件系统
type FS struct {
	fs        afero.Fs
	base      string
	allowAbs  bool
	allowlist []string
}

// ReadResult 和远程读取的编码规则一致，Path 是解析后的绝对路径
type ReadResult struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Path     string `json:"path"`
}

type WriteResult struct {
	OK    bool   `json:"ok"`
	Bytes int    `json:"bytes"`
	Path  string `json:"path"`
}

type DeleteResult struct {
	OK   bool   `json:"ok"`
	Path string `json:"path"`
}

// New 使用操作系统的文件系统
func New(opts Options) *FS {
	return NewWithFs(afero.NewOsFs(), opts)
}

// NewWithFs 使用给定的 afero.Fs，测试中传入 MemMapFs
func NewWithFs(fsys afero.Fs, opts Options) *FS {
	base := opts.BaseDir
	if base == "" {
		if wd, err := os.Getwd(); err == nil {
			base = wd
		}
	}
	if abs, err := filepath.Abs(base); err == nil {
		base = abs
	}
	allowlist := make([]string, 0, len(opts.Allowlist))
	for _, prefix := range opts.Allowlist {
		if abs, err := filepath.Abs(prefix); err == nil {
			allowlist = append(allowlist, abs)
		}
	}
	return &FS{
		fs:        fsys,
		base:      filepath.Clean(base),
		allowAbs:  opts.AllowAbs,
		allowlist: allowlist,
	}
}

// BaseDir 返回解析相对路径使用的目录
func (f *FS) BaseDir() string {
	return f.base
}

// Resolve 把请求中的路径转换为绝对路径。
// 相对路径按 base 解析且不能跳出 base；绝对路径必须在 base 内，除非开启了 AllowAbs。
// 配置了允许列表时，结果还必须落在其中某个前缀下。
func (f *FS) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &types.ValidationError{Fields: []string{"localPath"}}
	}
	var abs string
	if filepath.IsAbs(p) {
		abs = filepath.Clean(p)
		if !f.allowAbs && !within(abs, f.base) {
			return "", &types.ValidationError{Reason: "absolute path not allowed"}
		}
	} else {
		abs = filepath.Join(f.base, p)
		if !within(abs, f.base) {
			return "", &types.ValidationError{Reason: "path escapes base dir"}
		}
	}
	if len(f.allowlist) > 0 {
		ok := false
		for _, prefix := range f.allowlist {
			if within(abs, prefix) {
				ok = true
				break
			}
		}
		if !ok {
			return "", &types.ValidationError{Reason: "path not in allowlist"}
		}
	}
	return abs, nil
}

func (f *FS) Read(p string) (*ReadResult, error) {
	abs, err := f.Resolve(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(f.fs, abs)
	if err != nil {
		return nil, localErr(err)
	}
	content, encoding := encode(data)
	return &ReadResult{Content: content, Encoding: encoding, Path: abs}, nil
}

// Write 创建缺失的父目录后写入，已存在的文件被覆盖
func (f *FS) Write(p string, data []byte) (*WriteResult, error) {
	abs, err := f.Resolve(p)
	if err != nil {
		return nil, err
	}
	if err := f.fs.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, localErr(err)
	}
	if err := afero.WriteFile(f.fs, abs, data, 0o644); err != nil {
		return nil, localErr(err)
	}
	return &WriteResult{OK: true, Bytes: len(data), Path: abs}, nil
}

// Delete 只删除文件，目录返回错误
func (f *FS) Delete(p string) (*DeleteResult, error) {
	abs, err := f.Resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := f.fs.Stat(abs)
	if err != nil {
		return nil, localErr(err)
	}
	if info.IsDir() {
		return nil, &types.ReadError{Message: fmt.Sprintf("%s is a directory", abs)}
	}
	if err := f.fs.Remove(abs); err != nil {
		return nil, localErr(err)
	}
	return &DeleteResult{OK: true, Path: abs}, nil
}

// within 判断 p 是否等于 dir 或在 dir 之下
func within(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// 本地文件错误和远程读取失败一样按调用方错误处理
func localErr(err error) error {
	return &types.ReadError{Message: err.Error()}
}

// encode 合法 UTF-8 原样返回，否则用 base64
func encode(data []byte) (string, string) {
	if utf8.Valid(data) {
		return string(data), types.EncodingUTF8
	}
	return base64.StdEncoding.EncodeToString(data), types.EncodingBase64
}
