package query

import (
	"errors"
	"testing"
)

func TestCheckReadOnlyAcceptsQueries(t *testing.T) {
	accepted := []string{
		"SELECT 1",
		"select * from Artist limit 5;",
		"  WITH totals AS (SELECT CustomerId, SUM(Total) t FROM Invoice GROUP BY 1) SELECT * FROM totals",
		"EXPLAIN QUERY PLAN SELECT * FROM Track",
		"SELECT 'drop table x; delete' AS note",
		`SELECT "Update" FROM "Insert"`,
		"SELECT Name FROM Track -- delete everything\nLIMIT 3",
		"SELECT /* insert */ COUNT(*) FROM Album",
		"SELECT replace(Name, 'a', 'b') FROM Artist",
		"SELECT * FROM Invoice ORDER BY Total DESC LIMIT 5 OFFSET 5",
		"SELECT Title AS load FROM Album",
		"SELECT Name AS set, Composer AS copy, Milliseconds AS call FROM Track",
		"SELECT 1 AS analyze, 2 AS import, 3 AS export",
		"EXPLAIN SELECT * FROM Artist",
		"SELECT 'nextval(x)' AS note",
	}
	for _, sqlText := range accepted {
		if err := CheckReadOnly(sqlText); err != nil {
			t.Fatalf("CheckReadOnly(%q) error = %v", sqlText, err)
		}
	}
}

func TestCheckReadOnlyRejectsMutations(t *testing.T) {
	rejected := []string{
		"",
		";",
		"DELETE FROM Artist",
		"DROP TABLE Artist",
		"INSERT INTO Artist (Name) VALUES ('x')",
		"UPDATE Track SET UnitPrice = 0",
		"SELECT 1; DROP TABLE Artist",
		"WITH x AS (DELETE FROM Artist RETURNING *) SELECT * FROM x",
		"PRAGMA writable_schema = 1",
		"ATTACH DATABASE 'other.db' AS other",
		"EXPLAIN ANALYZE SELECT 1",
		"EXPLAIN (ANALYZE, BUFFERS) SELECT 1",
		"SELECT * INTO stolen FROM artist",
		"SELECT set_config('default_transaction_read_only', 'off', false)",
		"SELECT nextval('artist_id_seq')",
		"SELECT setval ('artist_id_seq', 1)",
		"SELECT load_extension('evil.so')",
		"LOAD httpfs",
		"SET search_path = public",
		"COPY artist TO '/tmp/out.csv'",
		"CALL refresh()",
	}
	for _, sqlText := range rejected {
		err := CheckReadOnly(sqlText)
		if err == nil {
			t.Fatalf("CheckReadOnly(%q) expected error", sqlText)
		}
		if !errors.Is(err, ErrNotReadOnly) {
			t.Fatalf("CheckReadOnly(%q) error = %v, want ErrNotReadOnly", sqlText, err)
		}
	}
}

func TestStripTrailingSemicolons(t *testing.T) {
	if got := StripTrailingSemicolons(" SELECT 1 ; ;; "); got != "SELECT 1" {
		t.Fatalf("StripTrailingSemicolons() = %q", got)
	}
}

func TestMaskLiteralsPreservesLength(t *testing.T) {
	in := `SELECT 'it''s' , "a""b", [x y] -- c` + "\n/* d */ 1"
	out := maskLiterals(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
}
