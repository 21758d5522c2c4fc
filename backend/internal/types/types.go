package types

import (
	"fmt"
	"strings"
)

// Credentials 是所有目标共享的 SSH 凭据
type Credentials struct {
	KeyPath         string
	Password        string
	PasswordEnabled bool
}

// PasswordUsable 只有开启了密码认证且配置了密码时才返回 true
func (c *Credentials) PasswordUsable() bool {
	return c != nil && c.PasswordEnabled && c.Password != ""
}

// Target 代表一个可操作的远程主机，启动时创建，之后只读
type Target struct {
	Name        string       `json:"name"`
	Host        string       `json:"host"`
	Port        int          `json:"port"`
	User        string       `json:"user"`
	Credentials *Credentials `json:"-"`
}

// Addr 返回 host:port，端口缺省为 22
func (t *Target) Addr() string {
	port := t.Port
	if port <= 0 {
		port = 22
	}
	return fmt.Sprintf("%s:%d", t.Host, port)
}

// ExecResult 是远程命令的执行结果
type ExecResult struct {
	Code   int    `json:"code"`
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

const (
	EncodingUTF8   = "utf8"
	EncodingBase64 = "base64"

	ViaSFTP   = "sftp"
	ViaSSHCat = "ssh-cat"
)

// ReadResult 是文件读取结果，Via 标明走的是 sftp 还是 ssh cat
type ReadResult struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Via      string `json:"via"`
}

// FileAttrs 是 sftp 返回的文件属性
type FileAttrs struct {
	Size  int64  `json:"size"`
	Mtime int64  `json:"mtime"`
	Mode  uint32 `json:"mode"`
	UID   uint32 `json:"uid"`
	GID   uint32 `json:"gid"`
}

// FileEntry 是目录列表中的一项，保持服务端返回的顺序
type FileEntry struct {
	Name     string    `json:"name"`
	Longname string    `json:"longname"`
	Attrs    FileAttrs `json:"attrs"`
}

// OKResult 用于 write/delete/move 的成功返回
type OKResult struct {
	OK bool `json:"ok"`
}

// --- 错误类型 ---

// ValidationError 表示缺少必填字段，操作不会被执行
type ValidationError struct {
	Fields []string
	// Reason 非空时直接作为错误信息，用于参数格式错误
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s required", joinFields(e.Fields))
}

func joinFields(fields []string) string {
	switch len(fields) {
	case 0:
		return "field"
	case 1:
		return fields[0]
	case 2:
		return fields[0] + " and " + fields[1]
	}
	return strings.Join(fields, ", ")
}

// PolicyError 表示命令被 allow/deny 列表拒绝
type PolicyError struct {
	Program string
}

func (e *PolicyError) Error() string {
	return fmt.Sprintf("command not allowed: %s", e.Program)
}

// PathPolicyError 表示 log-tail 的路径不在允许的前缀中
type PathPolicyError struct {
	Path string
}

func (e *PathPolicyError) Error() string {
	return "path not allowed"
}

// TargetNotFoundError 表示目标名称未配置
type TargetNotFoundError struct {
	Name string
}

func (e *TargetNotFoundError) Error() string {
	return fmt.Sprintf("unknown target: %s", e.Name)
}

// AuthError 表示密钥和密码认证都失败了，或者 API token 无效
type AuthError struct {
	Target string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Target == "" {
		return "unauthorized"
	}
	return fmt.Sprintf("ssh authentication failed for %s: %v", e.Target, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// TransportError 表示连接、命令执行或 sftp 操作失败
type TransportError struct {
	Op     string
	Target string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s on %s: %v", e.Op, e.Target, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ReadError 是读取回退（ssh cat）失败时的最终错误
type ReadError struct {
	Message string
}

func (e *ReadError) Error() string { return e.Message }

// UpstreamError 表示 DSM 等外部服务调用失败
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string { return e.Err.Error() }

func (e *UpstreamError) Unwrap() error { return e.Err }

// CommandError 表示 mv 等辅助命令以非零状态退出
type CommandError struct {
	Result *ExecResult
}

func (e *CommandError) Error() string {
	if msg := strings.TrimSpace(e.Result.Stderr); msg != "" {
		return msg
	}
	return fmt.Sprintf("command failed (code=%d)", e.Result.Code)
}
