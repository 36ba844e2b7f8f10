// Package sqltoken splits SQL statements into lexical tokens.
//
// The token stream is what the SQL injection detector compares, so the
// lexer keeps a few things other SQL lexers throw away: MySQL executable
// comments (/*! ... */) survive as a single token, hex literals are one
// token, and quoted strings and identifiers are never split. Ordinary
// comments are dropped.
package sqltoken

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Dialect tags understood by Tokenize. Unknown tags use the common rules.
const (
	DialectMySQL  = "mysql"
	DialectPgSQL  = "pgsql"
	DialectMSSQL  = "mssql"
	DialectOracle = "oracle"
	DialectSQLite = "sqlite"
)

var multiCharOps = []string{"<=>", "<=", ">=", "<>", "!=", ":=", "||", "&&", "<<", ">>", "::", "->>", "->"}

// Tokenize returns the tokens of query. It never fails: unterminated
// strings or comments run to the end of the input.
func Tokenize(query, dialect string) []string {
	l := lexer{src: query, dialect: strings.ToLower(dialect)}
	return l.run()
}

type lexer struct {
	src     string
	pos     int
	dialect string
	tokens  []string
}

func (l *lexer) run() []string {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isSpace(c):
			l.pos++
		case c == '-' && l.peek(1) == '-' && l.dashCommentAt():
			l.skipLine()
		case c == '#' && l.dialect == DialectMySQL:
			l.skipLine()
		case c == '/' && l.peek(1) == '*':
			l.blockComment()
		case c == '\'' || c == '"':
			l.quoted(c)
		case c == '`' && l.dialect != DialectMSSQL:
			l.quoted('`')
		case c == '[' && l.dialect == DialectMSSQL:
			l.bracketIdent()
		case c == '$' && l.dialect == DialectPgSQL && l.dollarQuoted():
		case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
			l.number()
		case c == '@':
			l.variable()
		case isIdentStart(c):
			l.ident()
		case c >= utf8.RuneSelf:
			l.ident()
		default:
			l.operator()
		}
	}
	return l.tokens
}

func (l *lexer) peek(n int) byte {
	if l.pos+n < len(l.src) {
		return l.src[l.pos+n]
	}
	return 0
}

func (l *lexer) emit(start int) {
	l.tokens = append(l.tokens, l.src[start:l.pos])
}

// dashCommentAt reports whether "--" at pos starts a comment. MySQL requires
// whitespace (or end of input) after the dashes.
func (l *lexer) dashCommentAt() bool {
	if l.dialect != DialectMySQL {
		return true
	}
	next := l.peek(2)
	return next == 0 || isSpace(next)
}

func (l *lexer) skipLine() {
	for l.pos < len(l.src) && l.src[l.pos] != '\n' {
		l.pos++
	}
}

func (l *lexer) blockComment() {
	start := l.pos
	executable := l.peek(2) == '!'
	end := strings.Index(l.src[l.pos+2:], "*/")
	if end < 0 {
		l.pos = len(l.src)
	} else {
		l.pos += 2 + end + 2
	}
	if executable {
		l.emit(start)
	}
}

func (l *lexer) quoted(q byte) {
	start := l.pos
	l.pos++
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c == '\\' && q != '`' && l.dialect == DialectMySQL {
			l.pos += 2
			continue
		}
		if c == q {
			if l.peek(1) == q { // doubled quote escape
				l.pos += 2
				continue
			}
			l.pos++
			break
		}
		l.pos++
	}
	if l.pos > len(l.src) {
		l.pos = len(l.src)
	}
	l.emit(start)
}

func (l *lexer) bracketIdent() {
	start := l.pos
	end := strings.IndexByte(l.src[l.pos:], ']')
	if end < 0 {
		l.pos = len(l.src)
	} else {
		l.pos += end + 1
	}
	l.emit(start)
}

// dollarQuoted consumes a PostgreSQL $tag$...$tag$ string. It returns false
// (consuming nothing) when the input at pos is not a dollar quote opener.
func (l *lexer) dollarQuoted() bool {
	rest := l.src[l.pos+1:]
	closeIdx := strings.IndexByte(rest, '$')
	if closeIdx < 0 {
		return false
	}
	tag := rest[:closeIdx]
	for i := 0; i < len(tag); i++ {
		if !isIdentPart(tag[i]) || (i == 0 && isDigit(tag[i])) {
			return false
		}
	}
	delim := "$" + tag + "$"
	start := l.pos
	body := l.pos + len(delim)
	end := strings.Index(l.src[body:], delim)
	if end < 0 {
		l.pos = len(l.src)
	} else {
		l.pos = body + end + len(delim)
	}
	l.emit(start)
	return true
}

func (l *lexer) number() {
	start := l.pos
	if l.src[l.pos] == '0' && (l.peek(1) == 'x' || l.peek(1) == 'X') {
		l.pos += 2
		for l.pos < len(l.src) && isHex(l.src[l.pos]) {
			l.pos++
		}
		l.emit(start)
		return
	}
	if l.src[l.pos] == '0' && (l.peek(1) == 'b' || l.peek(1) == 'B') && (l.peek(2) == '0' || l.peek(2) == '1') {
		l.pos += 2
		for l.pos < len(l.src) && (l.src[l.pos] == '0' || l.src[l.pos] == '1') {
			l.pos++
		}
		l.emit(start)
		return
	}
	for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
		l.pos++
	}
	if l.pos < len(l.src) && l.src[l.pos] == '.' {
		l.pos++
		for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
			l.pos++
		}
	}
	if l.pos < len(l.src) && (l.src[l.pos] == 'e' || l.src[l.pos] == 'E') {
		next := l.peek(1)
		if isDigit(next) || ((next == '+' || next == '-') && isDigit(l.peek(2))) {
			l.pos += 2
			for l.pos < len(l.src) && isDigit(l.src[l.pos]) {
				l.pos++
			}
		}
	}
	// identifiers may start with digits in MySQL (e.g. 1abc)
	for l.pos < len(l.src) && isIdentPart(l.src[l.pos]) {
		l.pos++
	}
	l.emit(start)
}

func (l *lexer) variable() {
	start := l.pos
	l.pos++
	if l.pos < len(l.src) && l.src[l.pos] == '@' {
		l.pos++
	}
	for l.pos < len(l.src) && (isIdentPart(l.src[l.pos]) || l.src[l.pos] == '.') {
		l.pos++
	}
	l.emit(start)
}

func (l *lexer) ident() {
	start := l.pos
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		if c < utf8.RuneSelf {
			if !isIdentPart(c) {
				break
			}
			l.pos++
			continue
		}
		r, size := utf8.DecodeRuneInString(l.src[l.pos:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			if l.pos == start {
				l.pos += size // lone symbol becomes its own token
			}
			break
		}
		l.pos += size
	}
	l.emit(start)
}

func (l *lexer) operator() {
	start := l.pos
	for _, op := range multiCharOps {
		if strings.HasPrefix(l.src[l.pos:], op) {
			l.pos += len(op)
			l.emit(start)
			return
		}
	}
	l.pos++
	l.emit(start)
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isHex(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func isIdentStart(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || c == '_' || c == '$'
}

func isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c)
}
