package protocol

import (
	"bufio"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want map[string]any
	}{
		{"test", Test{}, map[string]any{"cmd": "test", "ticket": float64(1)}},
		{"ls", List{Path: "/data"}, map[string]any{"cmd": "ls", "ticket": float64(1), "p": "/data"}},
		{"rm", Remove{Path: "/tmp/x", Recursive: true}, map[string]any{"cmd": "rm", "ticket": float64(1), "p": "/tmp/x", "recursive": true}},
		{"mv", Move{Src: "/a", Dst: "/b"}, map[string]any{"cmd": "mv", "ticket": float64(1), "src": "/a", "dst": "/b"}},
		{"b64write", NewWrite("/tmp/x", []byte("hello")), map[string]any{"cmd": "b64write", "ticket": float64(1), "p": "/tmp/x", "contents": "aGVsbG8="}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, err := Encode(1, tt.cmd)
			require.NoError(t, err)
			require.True(t, strings.HasSuffix(string(line), "\n"))
			assert.Equal(t, 1, strings.Count(string(line), "\n"), "one request per line")

			var got map[string]any
			require.NoError(t, sonic.Unmarshal(line, &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeEscapesNewlines(t *testing.T) {
	line, err := Encode(3, List{Path: "/odd\nname"})
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(line), "\n"))
}

func TestParseResult(t *testing.T) {
	res, err := ParseResult([]byte(`{"result":"OK","ticket":42,"files":[]}`))
	require.NoError(t, err)
	assert.Equal(t, StatusOK, res.Status)
	assert.Equal(t, uint64(42), res.TicketID())
	assert.NoError(t, res.Err())

	res, err = ParseResult([]byte(`{"result":"E","ticket":5,"msg":"No such file or directory: '/nope'","code":"ENOENT"}`))
	require.NoError(t, err)
	var remote *RemoteError
	require.ErrorAs(t, res.Err(), &remote)
	assert.Equal(t, "No such file or directory: '/nope'", remote.Msg)
	assert.ErrorIs(t, res.Err(), fs.ErrNotExist)
}

func TestParseResultAnomalies(t *testing.T) {
	_, err := ParseResult([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseResult([]byte(`{"ticket":1}`))
	assert.ErrorIs(t, err, ErrMalformed)

	_, err = ParseResult([]byte("   "))
	assert.ErrorIs(t, err, ErrMalformed)

	res, err := ParseResult([]byte(`{"result":"E","msg":"bad request"}`))
	assert.ErrorIs(t, err, ErrMissingTicket)
	require.NotNil(t, res)
	assert.Equal(t, "bad request", res.Msg)

	_, err = ParseResult([]byte(`{"result":"OK","ticket":null}`))
	assert.ErrorIs(t, err, ErrMissingTicket)
}

func TestDecodeReply(t *testing.T) {
	parse := func(s string) *Result {
		res, err := ParseResult([]byte(s))
		require.NoError(t, err)
		return res
	}

	listing, err := As[Listing](VerbList, parse(`{"result":"OK","ticket":1,"files":[{"n":"a.txt","k":1},{"n":"sub","k":2},{"n":"ln","k":66}]}`))
	require.NoError(t, err)
	require.Len(t, listing.Files, 3)
	assert.True(t, listing.Files[1].Kind.IsDir())
	assert.True(t, listing.Files[2].Kind.IsSymlink())
	assert.True(t, listing.Files[2].Kind.IsDir())

	st, err := As[Stat](VerbMStat, parse(`{"result":"OK","ticket":2,"type":1,"size":5,"ctime":1000,"mtime":2000,"prefetch_ls":null}`))
	require.NoError(t, err)
	assert.Nil(t, st.Prefetch)
	assert.Equal(t, int64(5), st.Size)

	st, err = As[Stat](VerbMStat, parse(`{"result":"OK","ticket":3,"type":2,"size":4096,"ctime":1,"mtime":1,"prefetch_ls":[]}`))
	require.NoError(t, err)
	require.NotNil(t, st.Prefetch, "an empty directory still prefetches")
	assert.Empty(t, *st.Prefetch)

	content, err := As[Content](VerbRead, parse(`{"result":"OK","ticket":4,"b64":"aGVsbG8="}`))
	require.NoError(t, err)
	data, err := content.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	reply, err := DecodeReply(VerbRemove, parse(`{"result":"OK","ticket":5}`))
	require.NoError(t, err)
	assert.IsType(t, Ack{}, reply)

	_, err = DecodeReply(VerbList, parse(`{"result":"E","ticket":6,"msg":"Permission denied","code":"EACCES"}`))
	assert.ErrorIs(t, err, fs.ErrPermission)

	_, err = As[Listing](VerbRead, parse(`{"result":"OK","ticket":7,"b64":""}`))
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestVerbMutating(t *testing.T) {
	for _, v := range []Verb{VerbWrite, VerbMakeDirs, VerbRemove, VerbMove, VerbCopy} {
		assert.True(t, v.Mutating(), v)
	}
	for _, v := range []Verb{VerbTest, VerbList, VerbMStat, VerbRead} {
		assert.False(t, v.Mutating(), v)
	}
}

// TestScriptAgainstLocalInterpreter runs the embedded script with a local
// python3 and drives it through the codec.
func TestScriptAgainstLocalInterpreter(t *testing.T) {
	python, err := exec.LookPath("python3")
	if err != nil {
		t.Skip("python3 not installed")
	}

	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "data"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data", "a.txt"), []byte("x"), 0o644))

	argv := Argv(python)
	cmd := exec.Command(argv[0], argv[1:]...)
	stdin, err := cmd.StdinPipe()
	require.NoError(t, err)
	stdout, err := cmd.StdoutPipe()
	require.NoError(t, err)
	require.NoError(t, cmd.Start())
	defer func() {
		stdin.Close()
		_ = cmd.Wait()
	}()

	reader := bufio.NewReader(stdout)
	call := func(ticket uint64, c Command) *Result {
		line, err := Encode(ticket, c)
		require.NoError(t, err)
		_, err = stdin.Write(line)
		require.NoError(t, err)
		reply, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		res, err := ParseResult(reply)
		require.NoError(t, err)
		require.Equal(t, ticket, res.TicketID())
		return res
	}

	st, err := As[Stat](VerbMStat, call(1, MStat{Path: filepath.Join(dir, "data")}))
	require.NoError(t, err)
	assert.True(t, st.Type.IsDir())
	require.NotNil(t, st.Prefetch)
	assert.Equal(t, []Entry{{Name: "a.txt", Kind: TypeFile}}, *st.Prefetch)

	target := filepath.Join(dir, "x")
	_, err = DecodeReply(VerbWrite, call(2, NewWrite(target, []byte("hello"))))
	require.NoError(t, err)

	content, err := As[Content](VerbRead, call(3, Read{Path: target}))
	require.NoError(t, err)
	data, err := content.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = DecodeReply(VerbList, call(4, List{Path: filepath.Join(dir, "missing")}))
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = DecodeReply(VerbRemove, call(5, Remove{Path: filepath.Join(dir, "data")}))
	assert.ErrorIs(t, err, fs.ErrExist, "non-recursive rm of a non-empty dir reports ENOTEMPTY")

	_, err = DecodeReply(VerbRemove, call(6, Remove{Path: filepath.Join(dir, "data"), Recursive: true}))
	assert.NoError(t, err)
}
