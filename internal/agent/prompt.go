package agent

import (
	"fmt"
	"strings"

	"github.com/sqlchat/sqlchat/internal/query"
)

func systemPrompt(dialect query.Dialect, topK int) string {
	return fmt.Sprintf(`You are an agent designed to interact with a SQL database.
Given an input question, create a syntactically correct %s query to run,
then look at the results of the query and return the answer.

Limit results to %d unless otherwise requested.
Double-check syntax before execution.
Never perform any DML statements like INSERT, UPDATE, DELETE, or DROP.

Start by listing the tables, then look at the schema of the relevant tables.
Use sql_db_query_checker on every query before running it with sql_db_query.
If a query fails, rewrite it and try again.`, dialect, topK)
}

func queryCheckerPrompt(dialect query.Dialect, sqlText string) string {
	return fmt.Sprintf(`%s
Double check the %s query above for common mistakes, including:
- Using NOT IN with NULL values
- Using UNION when UNION ALL should have been used
- Using BETWEEN for exclusive ranges
- Data type mismatch in predicates
- Properly quoting identifiers
- Using the correct number of arguments for functions
- Casting to the correct data type
- Using the proper columns for joins

If there are any of the above mistakes, rewrite the query. If there are no mistakes, just reproduce the original query.

Output the final SQL query only.`, strings.TrimSpace(sqlText), dialect)
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
