//go:build windows

package remote

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/windows"
)

// translateSyscallError 把常见的 WSA 错误翻译成可读的提示
func translateSyscallError(syscallErr *os.SyscallError, hostIdentifier string) error {
	if errors.Is(syscallErr.Err, windows.WSAECONNREFUSED) {
		return fmt.Errorf("connection refused by '%s', check the NAS IP/port and that SSH is enabled", hostIdentifier)
	}
	if errors.Is(syscallErr.Err, windows.WSAEHOSTUNREACH) {
		return fmt.Errorf("no route to host '%s', check your network/VPN and the NAS IP", hostIdentifier)
	}
	if errors.Is(syscallErr.Err, windows.WSAENETUNREACH) {
		return fmt.Errorf("network is unreachable for '%s', check your network connection and VPN", hostIdentifier)
	}
	return nil
}
