package resp

import (
	"errors"
	. "testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestAppendCmd(t *T) {
	tests := []struct {
		name string
		args []interface{}
		exp  string
	}{
		{"PING", nil, "*1\r\n$4\r\nPING\r\n"},
		{"GET", []interface{}{"foo"}, "*2\r\n$3\r\nGET\r\n$3\r\nfoo\r\n"},
		{"SET", []interface{}{[]byte("k"), "v"},
			"*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"},
		{"INCRBY", []interface{}{"k", 5}, "*3\r\n$6\r\nINCRBY\r\n$1\r\nk\r\n$1\r\n5\r\n"},
		{"INCRBY", []interface{}{"k", int64(-12)},
			"*3\r\n$6\r\nINCRBY\r\n$1\r\nk\r\n$3\r\n-12\r\n"},
		{"EXPIRE", []interface{}{"k", uint32(30)},
			"*3\r\n$6\r\nEXPIRE\r\n$1\r\nk\r\n$2\r\n30\r\n"},
		{"INCRBYFLOAT", []interface{}{"k", 0.5},
			"*3\r\n$11\r\nINCRBYFLOAT\r\n$1\r\nk\r\n$3\r\n0.5\r\n"},
		{"SET", []interface{}{"k", float32(2)},
			"*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\n2\r\n"},
		{"SET", []interface{}{"empty", ""},
			"*3\r\n$3\r\nSET\r\n$5\r\nempty\r\n$0\r\n\r\n"},
	}

	for _, test := range tests {
		got, err := AppendCmd(nil, test.name, test.args...)
		require.Nil(t, err, "cmd: %s", test.name)
		assert.Equal(t, test.exp, string(got), "cmd: %s", test.name)
	}
}

// A rejected argument must leave the buffer exactly as it was, no matter
// where in the argument list it sits.
func TestAppendCmdBadArg(t *T) {
	bad := []interface{}{
		true,
		nil,
		[]string{"a"},
		map[string]string{"a": "b"},
		struct{}{},
	}

	for _, arg := range bad {
		buf := []byte("prefix")
		got, err := AppendCmd(buf, "SET", "k", arg)
		require.NotNil(t, err, "arg: %#v", arg)
		assert.True(t, xerrors.Is(err, ErrArgType), "arg: %#v", arg)
		assert.Equal(t, "prefix", string(got), "arg: %#v", arg)

		// bad arg first, valid args after
		got, err = AppendCmd(buf, "SET", arg, "k")
		require.NotNil(t, err, "arg: %#v", arg)
		assert.Equal(t, "prefix", string(got), "arg: %#v", arg)
	}
}

func TestAppendCmdRoundTrip(t *T) {
	buf, err := AppendCmd(nil, "MSET", "a", 1, "b", []byte("two"))
	require.Nil(t, err)

	r := NewReader()
	r.Feed(buf)
	rep, ok, err := r.ReadReply()
	require.Nil(t, err)
	require.True(t, ok)
	assert.Equal(t, []interface{}{"MSET", "a", "1", "b", "two"}, rep.Value(true))
}

func TestAppendAny(t *T) {
	tests := []struct {
		in  interface{}
		exp string
	}{
		{nil, "$-1\r\n"},
		{NilArray{}, "*-1\r\n"},
		{Simple("OK"), "+OK\r\n"},
		{errors.New("ERR boom"), "-ERR boom\r\n"},
		{"str", "$3\r\nstr\r\n"},
		{[]byte("b"), "$1\r\nb\r\n"},
		{5, ":5\r\n"},
		{int64(-1), ":-1\r\n"},
		{true, ":1\r\n"},
		{false, ":0\r\n"},
		{[]string{"x", "y"}, "*2\r\n$1\r\nx\r\n$1\r\ny\r\n"},
		{[]interface{}{Simple("sub"), 1, nil}, "*3\r\n+sub\r\n:1\r\n$-1\r\n"},
		{Reply{Type: TypeError, Str: []byte("ERR nope")}, "-ERR nope\r\n"},
		{Reply{Type: TypeArray, Arr: []Reply{{Type: TypeInteger, Int: 7}}},
			"*1\r\n:7\r\n"},
	}

	for _, test := range tests {
		got := AppendAny(nil, test.in)
		assert.Equal(t, test.exp, string(got), "in: %#v", test.in)
	}
}
