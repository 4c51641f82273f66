package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/sqlchat/sqlchat/internal/query"
)

const (
	ToolListTables   = "sql_db_list_tables"
	ToolSchema       = "sql_db_schema"
	ToolQueryChecker = "sql_db_query_checker"
	ToolQuery        = "sql_db_query"
)

var toolNames = []string{ToolQuery, ToolSchema, ToolListTables, ToolQueryChecker}

type tool struct {
	description string
	parameters  jsonschema.Definition
	// run returns the text handed back to the model and, for sql_db_query,
	// the statement that was executed.
	run func(ctx context.Context, arguments string) (string, string, error)
}

type toolArguments struct {
	Query      string `json:"query"`
	TableNames string `json:"table_names"`
	ToolInput  string `json:"tool_input"`
}

func (a *Agent) buildTools() map[string]tool {
	return map[string]tool{
		ToolQuery: {
			description: "Input to this tool is a detailed and correct SQL query, output is a result from the database. " +
				"If the query is not correct, an error message will be returned. If an error is returned, rewrite the query, " +
				"check the query, and try again. If a column is unknown, use " + ToolSchema + " to find the correct table fields.",
			parameters: stringParameter("query", "A detailed and correct SQL query."),
			run:        a.runQuery,
		},
		ToolSchema: {
			description: "Input to this tool is a comma-separated list of tables, output is the schema and sample rows for those tables. " +
				"Be sure that the tables actually exist by calling " + ToolListTables + " first! Example Input: table1, table2, table3",
			parameters: stringParameter("table_names", "A comma-separated list of the table names for which to return the schema."),
			run:        a.runSchema,
		},
		ToolListTables: {
			description: "Input is an empty string, output is a comma-separated list of tables in the database.",
			parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"tool_input": {Type: jsonschema.String, Description: "An empty string."},
				},
			},
			run: a.runListTables,
		},
		ToolQueryChecker: {
			description: "Use this tool to double check if your query is correct before executing it. " +
				"Always use this tool before executing a query with " + ToolQuery + "!",
			parameters: stringParameter("query", "A detailed and SQL query to be checked."),
			run:        a.runQueryChecker,
		},
	}
}

func (a *Agent) toolDefinitions() []openai.Tool {
	definitions := make([]openai.Tool, 0, len(toolNames))
	for _, name := range toolNames {
		impl := a.tools[name]
		definitions = append(definitions, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name,
				Description: impl.description,
				Parameters:  impl.parameters,
			},
		})
	}
	return definitions
}

func stringParameter(name, description string) jsonschema.Definition {
	return jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			name: {Type: jsonschema.String, Description: description},
		},
		Required: []string{name},
	}
}

// parseArguments accepts the JSON object the model should send, and falls
// back to treating a non-JSON payload as the bare input string.
func parseArguments(raw string) toolArguments {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return toolArguments{}
	}
	var args toolArguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return toolArguments{Query: raw, TableNames: raw, ToolInput: raw}
	}
	return args
}

func (a *Agent) runListTables(ctx context.Context, _ string) (string, string, error) {
	tables, err := a.db.ListTables(ctx)
	if err != nil {
		return "", "", err
	}
	return strings.Join(tables, ", "), "", nil
}

func (a *Agent) runSchema(ctx context.Context, arguments string) (string, string, error) {
	args := parseArguments(arguments)
	names := make([]string, 0)
	for _, name := range strings.Split(args.TableNames, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", "", fmt.Errorf("table_names is required")
	}
	infos, err := a.db.DescribeTables(ctx, names, a.cfg.SampleRows)
	if err != nil {
		return "", "", err
	}
	return formatSchema(infos), "", nil
}

func (a *Agent) runQueryChecker(ctx context.Context, arguments string) (string, string, error) {
	sqlText := strings.TrimSpace(parseArguments(arguments).Query)
	if sqlText == "" {
		return "", "", fmt.Errorf("query is required")
	}
	message, err := a.complete(ctx, openai.ChatCompletionRequest{
		Model:       a.cfg.Model,
		Temperature: float32(a.cfg.Temperature),
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: queryCheckerPrompt(a.db.Dialect(), sqlText)},
		},
	})
	if err != nil {
		return "", "", err
	}
	checked := stripMarkdownSQL(message.Content)
	if checked == "" {
		return "", "", fmt.Errorf("query checker returned an empty query")
	}
	return checked, "", nil
}

func (a *Agent) runQuery(ctx context.Context, arguments string) (string, string, error) {
	sqlText := stripMarkdownSQL(parseArguments(arguments).Query)
	if sqlText == "" {
		return "", "", fmt.Errorf("query is required")
	}
	result, err := a.db.Execute(ctx, query.Request{SQL: sqlText, RowLimit: a.cfg.RowLimit})
	if err != nil {
		return "", sqlText, err
	}
	payload, err := json.Marshal(struct {
		Columns   []string `json:"columns"`
		Rows      [][]any  `json:"rows"`
		Truncated bool     `json:"truncated,omitempty"`
	}{result.Columns, result.Rows, result.Truncated})
	if err != nil {
		return "", sqlText, fmt.Errorf("encode query result: %w", err)
	}
	return string(payload), sqlText, nil
}

func formatSchema(infos []query.TableInfo) string {
	blocks := make([]string, 0, len(infos))
	for _, info := range infos {
		var b strings.Builder
		b.WriteString(info.CreateSQL)
		if len(info.SampleColumns) > 0 {
			fmt.Fprintf(&b, "\n\n/*\n%d rows from %s table:\n", len(info.SampleRows), info.Name)
			b.WriteString(strings.Join(info.SampleColumns, "\t"))
			for _, row := range info.SampleRows {
				cells := make([]string, len(row))
				for i, value := range row {
					cells[i] = formatCell(value)
				}
				b.WriteString("\n")
				b.WriteString(strings.Join(cells, "\t"))
			}
			b.WriteString("\n*/")
		}
		blocks = append(blocks, b.String())
	}
	return strings.Join(blocks, "\n\n")
}

const maxCellChars = 100

func formatCell(value any) string {
	if value == nil {
		return "None"
	}
	text := fmt.Sprint(value)
	if runes := []rune(text); len(runes) > maxCellChars {
		text = string(runes[:maxCellChars]) + "..."
	}
	return text
}
