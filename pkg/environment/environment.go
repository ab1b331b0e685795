// Package environment converts between process environment formats and prints the
// environment with credentials masked.
package environment

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
)

// Masked replaces the value of sensitive variables in dumps.
const Masked = "***MASKED***"

// DatabaseURLKey is only ever checked for presence.
const DatabaseURLKey = "DATABASE_URL"

// DefaultSensitiveKeys are matched case-insensitively as substrings of variable names.
var DefaultSensitiveKeys = []string{
	"PASSWORD",
	"PASSWD",
	"SECRET",
	"TOKEN",
	"API_KEY",
	"APIKEY",
	"PRIVATE_KEY",
	"CREDENTIAL",
}

// Parse turns KEY=VALUE entries (os.Environ format) into a map. Entries without '='
// are ignored; later duplicates win.
func Parse(environ []string) map[string]string {
	env := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		env[k] = v
	}
	return env
}

// ParseNull parses the NUL separated output of `env -0`.
func ParseNull(data []byte) map[string]string {
	var entries []string
	for _, chunk := range bytes.Split(data, []byte{0}) {
		if len(chunk) > 0 {
			entries = append(entries, string(chunk))
		}
	}
	return Parse(entries)
}

// List returns the map as sorted KEY=VALUE entries suitable for exec.
func List(env map[string]string) []string {
	keys := Keys(env)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// Keys returns the variable names in sorted order.
func Keys(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Merge copies src into dst. Existing keys in dst are kept unless override is set.
// It returns the keys that were written.
func Merge(dst, src map[string]string, override bool) []string {
	var written []string
	for _, k := range Keys(src) {
		if _, exists := dst[k]; exists && !override {
			continue
		}
		dst[k] = src[k]
		written = append(written, k)
	}
	return written
}

// Masker hides credential values.
type Masker struct {
	keys []string
}

// NewMasker matches the given substrings; with no arguments DefaultSensitiveKeys are used.
func NewMasker(keys ...string) *Masker {
	if len(keys) == 0 {
		keys = DefaultSensitiveKeys
	}
	upper := make([]string, len(keys))
	for i, k := range keys {
		upper[i] = strings.ToUpper(k)
	}
	return &Masker{keys: upper}
}

// Sensitive reports whether the variable name looks like it holds a credential.
func (m *Masker) Sensitive(key string) bool {
	k := strings.ToUpper(key)
	for _, s := range m.keys {
		if strings.Contains(k, s) {
			return true
		}
	}
	return false
}

// Value returns the printable form of a variable. URL values keep everything except
// the userinfo password.
func (m *Masker) Value(key, value string) string {
	if value == "" {
		return value
	}
	if m.Sensitive(key) {
		return Masked
	}
	if !strings.Contains(value, "://") {
		return value
	}
	u, err := url.Parse(value)
	if err == nil && u.User != nil {
		if _, hasPassword := u.User.Password(); !hasPassword {
			return value
		}
		// url.URL escapes '*' in userinfo, so the marker is spliced in after encoding.
		u.User = url.UserPassword(u.User.Username(), "")
		return strings.Replace(u.String(), ":@", ":"+Masked+"@", 1)
	}
	return maskUserinfo(value)
}

// maskUserinfo masks by position for values url.Parse rejects or misreads, such as
// passwords with a raw '/', '#' or '%': everything between the first ':' after the
// scheme and the last '@' is replaced.
func maskUserinfo(value string) string {
	scheme, rest, _ := strings.Cut(value, "://")
	at := strings.LastIndex(rest, "@")
	if at < 0 {
		return value
	}
	colon := strings.Index(rest[:at], ":")
	if colon < 0 {
		return value
	}
	return scheme + "://" + rest[:colon+1] + Masked + rest[at:]
}

// Dump writes the environment sorted by name. A nil masker prints values verbatim.
func Dump(w io.Writer, env map[string]string, m *Masker) error {
	for _, k := range Keys(env) {
		v := env[k]
		if m != nil {
			v = m.Value(k, v)
		}
		if _, err := fmt.Fprintf(w, "%s=%s\n", k, v); err != nil {
			return err
		}
	}
	return nil
}

// DescribeDatabaseURL reports whether DATABASE_URL is present without validating it.
func DescribeDatabaseURL(env map[string]string) string {
	if _, ok := env[DatabaseURLKey]; ok {
		return DatabaseURLKey + " is set"
	}
	return DatabaseURLKey + " is not set"
}
