package environment

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	env := Parse([]string{"A=1", "B=x=y", "EMPTY=", "garbage", "=nokey", "A=2"})
	assert.Equal(t, map[string]string{"A": "2", "B": "x=y", "EMPTY": ""}, env)
}

func TestParseNull(t *testing.T) {
	env := ParseNull([]byte("PATH=/bin\x00MULTI=line1\nline2\x00\x00"))
	assert.Equal(t, map[string]string{"PATH": "/bin", "MULTI": "line1\nline2"}, env)
}

func TestListIsSorted(t *testing.T) {
	assert.Equal(t, []string{"A=1", "B=2", "C=3"}, List(map[string]string{"C": "3", "A": "1", "B": "2"}))
}

func TestMerge(t *testing.T) {
	dst := map[string]string{"KEEP": "process"}
	written := Merge(dst, map[string]string{"KEEP": "dotenv", "NEW": "v"}, false)
	assert.Equal(t, []string{"NEW"}, written)
	assert.Equal(t, "process", dst["KEEP"])

	Merge(dst, map[string]string{"KEEP": "hook"}, true)
	assert.Equal(t, "hook", dst["KEEP"])
}

func TestMaskerValue(t *testing.T) {
	m := NewMasker()
	tests := []struct {
		key, value, want string
	}{
		{"PGPASSWORD", "hunter2", Masked},
		{"session_secret", "abc", Masked},
		{"GITHUB_TOKEN", "ghp", Masked},
		{"HOME", "/root", "/root"},
		{"PGPASSWORD", "", ""},
		{"DATABASE_URL", "postgres://app:hunter2@db:5432/app", "postgres://app:" + Masked + "@db:5432/app"},
		{"REDIS_URL", "redis://cache:6379/0", "redis://cache:6379/0"},
		{"DATABASE_URL", "postgres://app@db/app", "postgres://app@db/app"},
		{"DATABASE_URL", "postgres://app:p%ss@db/app", "postgres://app:" + Masked + "@db/app"},
		{"DATABASE_URL", "postgres://app:pa/ss@db/app", "postgres://app:" + Masked + "@db/app"},
		{"DATABASE_URL", "postgres://app:pa#ss@db/app", "postgres://app:" + Masked + "@db/app"},
		{"DATABASE_URL", "postgres://app:12/x@db:5432/app", "postgres://app:" + Masked + "@db:5432/app"},
		{"DATABASE_URL", "postgres://app:p@ss@db/app", "postgres://app:" + Masked + "@db/app"},
		{"DATABASE_URL", "postgres://%zz@db/app", "postgres://%zz@db/app"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Value(tt.key, tt.value))
		})
	}
}

func TestDump(t *testing.T) {
	env := map[string]string{"ZED": "last", "API_KEY": "k", "ALPHA": "first"}

	var buf bytes.Buffer
	require.NoError(t, Dump(&buf, env, NewMasker()))
	assert.Equal(t, "ALPHA=first\nAPI_KEY="+Masked+"\nZED=last\n", buf.String())

	buf.Reset()
	require.NoError(t, Dump(&buf, env, nil))
	assert.Contains(t, buf.String(), "API_KEY=k\n")
}

func TestDescribeDatabaseURL(t *testing.T) {
	assert.Equal(t, "DATABASE_URL is set", DescribeDatabaseURL(map[string]string{"DATABASE_URL": ""}))
	assert.Equal(t, "DATABASE_URL is not set", DescribeDatabaseURL(map[string]string{}))
}
