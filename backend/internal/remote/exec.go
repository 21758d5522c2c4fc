package remote

import (
	"bytes"
	"context"
	"errors"

	"golang.org/x/crypto/ssh"

	"nasgate/backend/internal/types"
)

// Exec 在目标上执行命令，分别收集 stdout 和 stderr。
// 远端以非零状态退出不算错误，退出码放在结果里；没有退出码时 Code 为 -1。
func (s *SSH) Exec(ctx context.Context, t *types.Target, command string) (*types.ExecResult, error) {
	var result *types.ExecResult
	err := s.withClient(ctx, t, "exec", func(client *ssh.Client) error {
		session, err := client.NewSession()
		if err != nil {
			return transportErr("exec", t, err)
		}
		defer session.Close()

		var stdout, stderr bytes.Buffer
		session.Stdout = &stdout
		session.Stderr = &stderr

		code := 0
		if err := session.Run(command); err != nil {
			var exitErr *ssh.ExitError
			var missingErr *ssh.ExitMissingError
			switch {
			case errors.As(err, &exitErr):
				code = exitErr.ExitStatus()
			case errors.As(err, &missingErr):
				code = -1
			default:
				return transportErr("exec", t, err)
			}
		}

		result = &types.ExecResult{
			Code:   code,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
