// Package policy decides whether an exec command may run.
//
// Only the leading program name is inspected. Chained commands such as
// "ls; rm -rf /" or "$(rm x)" pass as long as the first token is allowed,
// so the lists are a coarse filter and not a security boundary.
package policy

import (
	"regexp"
	"strings"
)

// DefaultDenylist applies when no denylist is configured.
var DefaultDenylist = []string{"rm", "shutdown", "reboot", "poweroff", "halt"}

var programRe = regexp.MustCompile(`^[A-Za-z0-9_./-]+`)

// Policy is immutable after construction.
type Policy struct {
	allow map[string]struct{}
	deny  map[string]struct{}
	// 保留原始顺序，用于 /health 输出
	allowList []string
}

// New builds a policy. A nil deny slice selects DefaultDenylist; an empty
// non-nil slice disables denying.
func New(allow, deny []string) *Policy {
	if deny == nil {
		deny = DefaultDenylist
	}
	p := &Policy{
		allow: toSet(allow),
		deny:  toSet(deny),
	}
	for _, a := range allow {
		if a = strings.TrimSpace(a); a != "" {
			p.allowList = append(p.allowList, a)
		}
	}
	return p
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}

// Program returns the basename of the first token of command, or "".
func Program(command string) string {
	token := programRe.FindString(strings.TrimSpace(command))
	if i := strings.LastIndexAny(token, `/\`); i >= 0 {
		token = token[i+1:]
	}
	return token
}

// IsAllowed applies deny first, then the allowlist when it is non-empty.
func (p *Policy) IsAllowed(command string) bool {
	prog := Program(command)
	if _, denied := p.deny[prog]; denied {
		return false
	}
	if len(p.allow) > 0 {
		_, ok := p.allow[prog]
		return ok
	}
	return true
}

// Allowlist returns the configured allowlist in its original order.
func (p *Policy) Allowlist() []string {
	out := make([]string, len(p.allowList))
	copy(out, p.allowList)
	return out
}
