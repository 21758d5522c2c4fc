package remote

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"nasgate/backend/internal/metrics"
	"nasgate/backend/internal/types"
)

// QuotePath 用双引号包裹路径，只转义内部的双引号。
// 不处理 $ 和反引号等 shell 元字符。
func QuotePath(path string) string {
	return `"` + strings.ReplaceAll(path, `"`, `\"`) + `"`
}

// ReadWithFallback 先用 sftp 读取；sftp 失败（例如路径在 chroot 之外）时
// 改用 ssh 执行 cat。cat 非零退出时返回它的 stderr，
// cat 本身无法执行时返回 sftp 的错误，两者都是 ReadError。
func ReadWithFallback(ctx context.Context, tr Transport, t *types.Target, path string) (*types.ReadResult, error) {
	data, sftpErr := tr.ReadFile(ctx, t, path)
	if sftpErr == nil {
		return EncodeContent(data), nil
	}

	log.Debug().Err(sftpErr).Str("target", t.Name).Str("path", path).Msg("sftp read failed, falling back to ssh cat")

	res, err := tr.Exec(ctx, t, "cat -- "+QuotePath(path))
	if err != nil {
		metrics.ReadFallback.WithLabelValues(metrics.OutcomeError).Inc()
		if ctx.Err() != nil {
			return nil, err
		}
		// cat 也执行不了时报告 sftp 的错误
		log.Debug().Err(err).Str("target", t.Name).Str("path", path).Msg("ssh cat fallback failed")
		return nil, &types.ReadError{Message: sftpErr.Error()}
	}
	if res.Code != 0 {
		metrics.ReadFallback.WithLabelValues(metrics.OutcomeError).Inc()
		msg := strings.TrimSpace(res.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("read failed (code=%d)", res.Code)
		}
		return nil, &types.ReadError{Message: msg}
	}

	metrics.ReadFallback.WithLabelValues(metrics.OutcomeSuccess).Inc()
	return &types.ReadResult{
		Content:  res.Stdout,
		Encoding: types.EncodingUTF8,
		Via:      types.ViaSSHCat,
	}, nil
}

// EncodeContent 合法 UTF-8 原样返回，否则用 base64
func EncodeContent(data []byte) *types.ReadResult {
	if utf8.Valid(data) {
		return &types.ReadResult{Content: string(data), Encoding: types.EncodingUTF8, Via: types.ViaSFTP}
	}
	return &types.ReadResult{
		Content:  base64.StdEncoding.EncodeToString(data),
		Encoding: types.EncodingBase64,
		Via:      types.ViaSFTP,
	}
}

// DecodeContent 解码写入内容，encoding 不是 base64 时按 UTF-8 处理
func DecodeContent(content, encoding string) ([]byte, error) {
	if encoding == types.EncodingBase64 {
		data, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 content: %w", err)
		}
		return data, nil
	}
	return []byte(content), nil
}
