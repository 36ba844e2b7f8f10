package detectors

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/triage-ai/palisade-rasp/internal/engine"
	"github.com/triage-ai/palisade-rasp/internal/sqltoken"
)

// Tokenizer splits a query of the given dialect into lexical tokens.
type Tokenizer func(query, dialect string) []string

// minUserInputLen is the shortest parameter value worth diffing; any
// injected cross-table query is longer than this.
const minUserInputLen = 15

// SQLDetector flags injected SQL by diffing user input against the query
// structure (sqli_userinput) and by a statement policy (sqli_policy).
// Queries judged benign are remembered in the query cache.
type SQLDetector struct {
	cache    *engine.QueryCache
	tokenize Tokenizer
}

// NewSQLDetector creates the SQL detector. A nil tokenize uses sqltoken.Tokenize.
func NewSQLDetector(cache *engine.QueryCache, tokenize Tokenizer) *SQLDetector {
	if tokenize == nil {
		tokenize = sqltoken.Tokenize
	}
	return &SQLDetector{cache: cache, tokenize: tokenize}
}

func (d *SQLDetector) Name() string {
	return "sql"
}

// sqlQuery carries one query through the rule chain. Tokens are computed on
// first use so an ignored matrix pays no tokenization cost.
type sqlQuery struct {
	query    string
	server   string
	matrix   *engine.Matrix
	tokenize Tokenizer

	tokens    []string
	tokenized bool
}

func (q *sqlQuery) Tokens() []string {
	if !q.tokenized {
		q.tokens = q.tokenize(q.query, q.server)
		q.tokenized = true
	}
	return q.tokens
}

var sqlRules = []engine.Rule[*sqlQuery]{
	{Algorithm: "sqli_userinput", Confidence: 90, Match: matchSQLUserInput},
	{Algorithm: "sqli_policy", Confidence: 100, Match: matchSQLPolicy},
}

func (d *SQLDetector) Detect(ev engine.Event, rc *engine.RequestContext, m *engine.Matrix) engine.Verdict {
	e, ok := ev.(*engine.SQLEvent)
	if !ok || e == nil || e.Query == "" {
		return engine.Clean
	}
	if !m.Entry("sqli_userinput").Enabled() && !m.Entry("sqli_policy").Enabled() {
		return engine.Clean
	}
	if d.cache.Lookup(e.Query) {
		return engine.Clean
	}

	q := &sqlQuery{query: e.Query, server: e.Server, matrix: m, tokenize: d.tokenize}
	v := engine.RunRules(sqlRules, q, rc, m)
	if v.IsClean() {
		d.cache.Insert(e.Query)
	}
	return v
}

// matchSQLUserInput removes each long parameter value from the query and
// flags the value when the token count drops by more than two.
func matchSQLUserInput(q *sqlQuery, rc *engine.RequestContext, _ engine.Entry) (engine.Finding, bool) {
	tokens := q.Tokens()
	if len(tokens) == 0 {
		return engine.Finding{}, false
	}
	for _, param := range rc.Parameters {
		for _, value := range param.Values {
			if utf8.RuneCountInString(value) <= minUserInputLen {
				continue
			}
			if value == q.query {
				if !q.matrix.Entry("sqli_dbmanager").Enabled() {
					continue
				}
				return engine.Finding{
					Message:   "SQLi - database manager detected, full query submitted in parameter " + param.Name,
					Algorithm: "sqli_dbmanager",
				}, true
			}
			if !strings.Contains(q.query, value) {
				continue
			}
			stripped := q.tokenize(strings.ReplaceAll(q.query, value, ""), q.server)
			if len(tokens)-len(stripped) > 2 {
				return engine.Finding{
					Message: "SQLi - query structure changed when removing user input, parameter " + param.Name,
				}, true
			}
		}
	}
	return engine.Finding{}, false
}

// matchSQLPolicy scans the lowercased tokens for statement shapes that
// ordinary application queries never use. Each feature is toggled in the
// sqli_policy entry. The first token is never inspected.
func matchSQLPolicy(q *sqlQuery, _ *engine.RequestContext, entry engine.Entry) (engine.Finding, bool) {
	raw := q.Tokens()
	tokens := make([]string, len(raw))
	for i, t := range raw {
		tokens[i] = strings.ToLower(t)
	}
	blacklist := entry.List("function_blacklist")

	for i := 1; i < len(tokens); i++ {
		tok := tokens[i]
		if entry.Feature("union_null") && tok == "select" {
			if nullRun(tokens, i) >= 5 {
				return policyFinding("UNION-NULL field-type probing"), true
			}
			continue
		}

		switch {
		case entry.Feature("stacked_query") && tok == ";" && i != len(tokens)-1:
			return policyFinding("multiple statements"), true
		case entry.Feature("no_hex") && strings.HasPrefix(tok, "0x"):
			return policyFinding("hex literal"), true
		case entry.Feature("version_comment") && strings.HasPrefix(tok, "/*!"):
			return policyFinding("MySQL version comment"), true
		case entry.Feature("constant_compare") && i < len(tokens)-1 && isCompareOp(tok):
			a, aok := parseLeadingInt(tokens[i-1])
			b, bok := parseLeadingInt(tokens[i+1])
			if !aok || !bok {
				continue
			}
			if abs(a) < 10 || abs(b) < 10 {
				continue
			}
			return policyFinding(fmt.Sprintf("constant comparison %d vs %d", a, b)), true
		case entry.Feature("function_blacklist") && strings.HasPrefix(tok, "("):
			if blacklist.Has(tokens[i-1]) {
				return policyFinding("blacklisted function call " + tokens[i-1]), true
			}
		}
	}
	return engine.Finding{}, false
}

func policyFinding(reason string) engine.Finding {
	return engine.Finding{Message: "SQLi - statement policy violation: " + reason}
}

// nullRun counts the commas, nulls and numbers among the five tokens after i,
// stopping at the first other token.
func nullRun(tokens []string, i int) int {
	n := 0
	for j := i + 1; j < len(tokens) && j < i+6; j++ {
		t := tokens[j]
		if t == "," || t == "null" {
			n++
			continue
		}
		if _, ok := parseLeadingInt(t); ok {
			n++
			continue
		}
		break
	}
	return n
}

func isCompareOp(tok string) bool {
	return tok == "xor" || tok[0] == '<' || tok[0] == '>' || tok[0] == '='
}

// parseLeadingInt reads an integer prefix: optional sign, then hex digits
// after 0x or decimal digits. Trailing characters are ignored.
func parseLeadingInt(s string) (int64, bool) {
	s = strings.TrimLeft(s, " \t\r\n")
	neg := false
	if s != "" && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		s = s[1:]
	}
	base := 10
	if len(s) > 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		base = 16
		s = s[2:]
	}
	end := 0
	for end < len(s) && isDigitIn(s[end], base) {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(s[:end], base, 64)
	if err != nil {
		n = math.MaxInt64 // out of range is still a number
	}
	if neg {
		n = -n
	}
	return n, true
}

func isDigitIn(c byte, base int) bool {
	if c >= '0' && c <= '9' {
		return true
	}
	if base == 16 {
		c |= 0x20
		return c >= 'a' && c <= 'f'
	}
	return false
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
