package router

import (
	"math/rand"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var reqCounter atomic.Uint64

// nextRequestID returns a short id, unique enough to correlate log lines of
// one command invocation.
func nextRequestID() string {
	seq := reqCounter.Add(1)
	ts := strconv.FormatInt(time.Now().UnixNano(), 36)
	return ts + "-" + strconv.FormatUint(seq, 36) + randTag(2)
}

func randTag(n int) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return string(b)
}

// tokenizeCommandLine splits a command line into tokens. Double and single
// quotes group words, backslash escapes the next character.
func tokenizeCommandLine(s string) []string {
	var tokens []string
	var cur strings.Builder
	var quote byte
	escaped := false

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		tokens = append(tokens, cur.String())
		cur.Reset()
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			cur.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur.WriteByte(c)
		}
	}
	flush()
	return tokens
}

// isFlagToken reports whether tok opens a flag. A leading dash followed by a
// digit is a negative number (chat ids), not a flag.
func isFlagToken(tok string) bool {
	if len(tok) < 2 || tok[0] != '-' {
		return false
	}
	return tok[1] < '0' || tok[1] > '9'
}

// parseFlags separates positional args from --key=value, --key value and
// bare --switch flags. Single-dash short options work too; "-abc" sets the
// bools a, b and c.
func parseFlags(args []string) (pos []string, flags map[string]string, bools map[string]bool) {
	flags = map[string]string{}
	bools = map[string]bool{}

	valueAfter := func(i int) (string, bool) {
		if i+1 < len(args) && !isFlagToken(args[i+1]) {
			return args[i+1], true
		}
		return "", false
	}

	for i := 0; i < len(args); i++ {
		tok := args[i]
		switch {
		case strings.HasPrefix(tok, "--") && len(tok) > 2:
			key := tok[2:]
			if k, v, found := strings.Cut(key, "="); found {
				flags[k] = v
			} else if v, ok := valueAfter(i); ok {
				flags[key] = v
				i++
			} else {
				bools[key] = true
			}
		case isFlagToken(tok):
			key := tok[1:]
			if k, v, found := strings.Cut(key, "="); found {
				flags[k] = v
			} else if len(key) == 1 {
				if v, ok := valueAfter(i); ok {
					flags[key] = v
					i++
				} else {
					bools[key] = true
				}
			} else {
				for _, c := range key {
					bools[string(c)] = true
				}
			}
		default:
			pos = append(pos, tok)
		}
	}
	return pos, flags, bools
}
