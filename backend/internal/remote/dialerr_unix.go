//go:build !windows

package remote

import (
	"fmt"
	"os"
	"syscall"
)

// translateSyscallError 把常见的网络系统调用错误翻译成可读的提示
func translateSyscallError(syscallErr *os.SyscallError, hostIdentifier string) error {
	switch syscallErr.Err {
	case syscall.ECONNREFUSED:
		return fmt.Errorf("connection refused by '%s', check the NAS IP/port and that SSH is enabled", hostIdentifier)
	case syscall.EHOSTUNREACH:
		return fmt.Errorf("no route to host '%s', check your network/VPN and the NAS IP", hostIdentifier)
	case syscall.ENETUNREACH:
		return fmt.Errorf("network is unreachable for '%s', check your network connection and VPN", hostIdentifier)
	}
	return nil
}
