package localfs

import (
	"errors"
	"runtime"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nasgate/backend/internal/types"
)

func newMemFS(t *testing.T, opts Options) (*FS, afero.Fs) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("paths below are unix style")
	}
	mem := afero.NewMemMapFs()
	if opts.BaseDir == "" {
		opts.BaseDir = "/srv/data"
	}
	return NewWithFs(mem, opts), mem
}

func TestResolve(t *testing.T) {
	cases := []struct {
		name string
		opts Options
		in   string
		want string
		err  string
	}{
		{name: "relative", in: "notes/a.txt", want: "/srv/data/notes/a.txt"},
		{name: "absolute inside base", in: "/srv/data/x", want: "/srv/data/x"},
		{name: "absolute outside base", in: "/etc/passwd", err: "absolute path not allowed"},
		{name: "absolute allowed", opts: Options{AllowAbs: true}, in: "/etc/hosts", want: "/etc/hosts"},
		{name: "relative escape", in: "../../etc/passwd", err: "path escapes base dir"},
		{name: "sibling with shared prefix", in: "/srv/database/x", err: "absolute path not allowed"},
		{name: "allowlist hit", opts: Options{Allowlist: []string{"/srv/data/share"}}, in: "share/a", want: "/srv/data/share/a"},
		{name: "allowlist miss", opts: Options{Allowlist: []string{"/srv/data/share"}}, in: "private/a", err: "path not in allowlist"},
		{name: "empty", in: "  ", err: "localPath required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, _ := newMemFS(t, tc.opts)
			got, err := f.Resolve(tc.in)
			if tc.err != "" {
				var ve *types.ValidationError
				require.True(t, errors.As(err, &ve), "got %v", err)
				assert.Equal(t, tc.err, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWriteReadDelete(t *testing.T) {
	f, mem := newMemFS(t, Options{})

	w, err := f.Write("deep/dir/hello.txt", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, &WriteResult{OK: true, Bytes: 5, Path: "/srv/data/deep/dir/hello.txt"}, w)
	isDir, err := afero.IsDir(mem, "/srv/data/deep/dir")
	require.NoError(t, err)
	assert.True(t, isDir)

	r, err := f.Read("deep/dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, &ReadResult{Content: "hello", Encoding: "utf8", Path: "/srv/data/deep/dir/hello.txt"}, r)

	_, err = f.Write("bin.dat", []byte{0xff, 0xfe, 0x00})
	require.NoError(t, err)
	r, err = f.Read("/srv/data/bin.dat")
	require.NoError(t, err)
	assert.Equal(t, "base64", r.Encoding)
	assert.Equal(t, "//4A", r.Content)

	d, err := f.Delete("deep/dir/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, &DeleteResult{OK: true, Path: "/srv/data/deep/dir/hello.txt"}, d)
	exists, err := afero.Exists(mem, "/srv/data/deep/dir/hello.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileErrorsAreReadErrors(t *testing.T) {
	f, _ := newMemFS(t, Options{})

	_, err := f.Read("missing.txt")
	var re *types.ReadError
	require.True(t, errors.As(err, &re))

	_, err = f.Delete("missing.txt")
	require.True(t, errors.As(err, &re))

	_, err = f.Write("d/x", []byte("x"))
	require.NoError(t, err)
	_, err = f.Delete("d")
	require.True(t, errors.As(err, &re))
	assert.Contains(t, err.Error(), "is a directory")
}

func TestDefaultBaseIsWorkingDir(t *testing.T) {
	f := New(Options{})
	assert.NotEmpty(t, f.BaseDir())
}
