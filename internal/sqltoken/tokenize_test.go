package sqltoken

import (
	"reflect"
	"testing"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		dialect string
		want    []string
	}{
		{"empty", "", DialectMySQL, nil},
		{"whitespace only", "  \n\t", DialectMySQL, nil},
		{
			"simple select",
			"select * from users where id=1",
			DialectMySQL,
			[]string{"select", "*", "from", "users", "where", "id", "=", "1"},
		},
		{
			"string literal kept whole",
			"insert into t values('a, b; c')",
			DialectMySQL,
			[]string{"insert", "into", "t", "values", "(", "'a, b; c'", ")"},
		},
		{
			"escaped quotes",
			`select 'it''s', 'a\'b'`,
			DialectMySQL,
			[]string{"select", "'it''s'", ",", `'a\'b'`},
		},
		{
			"hex literal",
			"select 0x41424344",
			DialectMySQL,
			[]string{"select", "0x41424344"},
		},
		{
			"executable comment kept",
			"select/*!50000 1,2*/3",
			DialectMySQL,
			[]string{"select", "/*!50000 1,2*/", "3"},
		},
		{
			"plain comments dropped",
			"select 1 /* note */ -- trailing\n# hash\nfrom dual",
			DialectMySQL,
			[]string{"select", "1", "from", "dual"},
		},
		{
			"mysql double dash needs space",
			"select 1--1",
			DialectMySQL,
			[]string{"select", "1", "-", "-", "1"},
		},
		{
			"multi char operators",
			"a<=b and c<>d or e!=f and g>=h",
			DialectMySQL,
			[]string{"a", "<=", "b", "and", "c", "<>", "d", "or", "e", "!=", "f", "and", "g", ">=", "h"},
		},
		{
			"stacked statements",
			"select 1;drop table users;",
			DialectMySQL,
			[]string{"select", "1", ";", "drop", "table", "users", ";"},
		},
		{
			"function call",
			"select sleep(5)",
			DialectMySQL,
			[]string{"select", "sleep", "(", "5", ")"},
		},
		{
			"backtick identifier",
			"select `my col` from `t`",
			DialectMySQL,
			[]string{"select", "`my col`", "from", "`t`"},
		},
		{
			"session variables",
			"select @@version, @x",
			DialectMySQL,
			[]string{"select", "@@version", ",", "@x"},
		},
		{
			"pgsql dollar quoting",
			"select $body$ a;b $body$, $1",
			DialectPgSQL,
			[]string{"select", "$body$ a;b $body$", ",", "$1"},
		},
		{
			"mssql brackets",
			"select [order] from [dbo].[t]",
			DialectMSSQL,
			[]string{"select", "[order]", "from", "[dbo]", ".", "[t]"},
		},
		{
			"unterminated string",
			"select 'abc",
			DialectMySQL,
			[]string{"select", "'abc"},
		},
		{
			"decimal and exponent",
			"select 1.5, 2e10, .5",
			DialectMySQL,
			[]string{"select", "1.5", ",", "2e10", ",", ".5"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.query, tt.dialect)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Tokenize(%q) = %q, want %q", tt.query, got, tt.want)
			}
		})
	}
}

func TestTokenize_UnknownDialectUsesCommonRules(t *testing.T) {
	got := Tokenize("select -- c\n 1", "db2")
	want := []string{"select", "1"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %q, want %q", got, want)
	}
}
