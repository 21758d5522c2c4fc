package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"

	"nasgate/backend/internal/types"
)

// withSFTP 在一次连接上打开 sftp 子通道，fn 返回后两者都关闭
func (s *SSH) withSFTP(ctx context.Context, t *types.Target, op string, fn func(*sftp.Client) error) error {
	return s.withClient(ctx, t, op, func(conn *ssh.Client) error {
		client, err := sftp.NewClient(conn)
		if err != nil {
			return transportErr(op, t, fmt.Errorf("sftp subsystem unavailable: %w", err))
		}
		defer client.Close()
		if err := fn(client); err != nil {
			return transportErr(op, t, err)
		}
		return nil
	})
}

// ReadFile 通过 sftp 读取整个文件
func (s *SSH) ReadFile(ctx context.Context, t *types.Target, path string) ([]byte, error) {
	var data []byte
	err := s.withSFTP(ctx, t, "sftp read", func(client *sftp.Client) error {
		f, err := client.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		data, err = io.ReadAll(f)
		return err
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

// WriteFile 创建或截断远程文件后写入，不会创建父目录
func (s *SSH) WriteFile(ctx context.Context, t *types.Target, path string, data []byte) error {
	return s.withSFTP(ctx, t, "sftp write", func(client *sftp.Client) error {
		f, err := client.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
		if err != nil {
			return err
		}
		if _, err := f.Write(data); err != nil {
			_ = f.Close()
			return err
		}
		return f.Close()
	})
}

// ListDir 按服务端返回的顺序列出目录，不排序
func (s *SSH) ListDir(ctx context.Context, t *types.Target, dir string) ([]types.FileEntry, error) {
	var entries []types.FileEntry
	err := s.withSFTP(ctx, t, "sftp readdir", func(client *sftp.Client) error {
		infos, err := client.ReadDir(dir)
		if err != nil {
			return err
		}
		entries = make([]types.FileEntry, 0, len(infos))
		for _, fi := range infos {
			entries = append(entries, toFileEntry(fi))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Remove 删除单个文件，不递归
func (s *SSH) Remove(ctx context.Context, t *types.Target, path string) error {
	return s.withSFTP(ctx, t, "sftp remove", func(client *sftp.Client) error {
		return client.Remove(path)
	})
}

func toFileEntry(fi os.FileInfo) types.FileEntry {
	attrs := types.FileAttrs{
		Size:  fi.Size(),
		Mtime: fi.ModTime().Unix(),
		Mode:  uint32(fi.Mode().Perm()),
	}
	if stat, ok := fi.Sys().(*sftp.FileStat); ok {
		attrs.Mode = stat.Mode
		attrs.Mtime = int64(stat.Mtime)
		attrs.UID = stat.UID
		attrs.GID = stat.GID
	}
	return types.FileEntry{
		Name:     fi.Name(),
		Longname: longname(fi, attrs),
		Attrs:    attrs,
	}
}

// longname 生成类似 ls -l 的一行。pkg/sftp 不暴露服务端返回的 longname。
func longname(fi os.FileInfo, attrs types.FileAttrs) string {
	mtime := time.Unix(attrs.Mtime, 0)
	stamp := mtime.Format("Jan _2 15:04")
	if time.Since(mtime) > 180*24*time.Hour {
		stamp = mtime.Format("Jan _2  2006")
	}
	return fmt.Sprintf("%s %4d %-8d %-8d %8d %s %s",
		fi.Mode().String(), 1, attrs.UID, attrs.GID, attrs.Size, stamp, fi.Name())
}
