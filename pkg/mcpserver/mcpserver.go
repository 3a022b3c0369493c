// Package mcpserver exposes a session as Model Context Protocol tools, so
// editors and agents can generate and run read-only SQL over stdio.
package mcpserver

import (
	"context"
	"encoding/json"

	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/executor"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
	"github.com/sqlpilot/sqlpilot/pkg/sqlgen"
)

// Tool names
const (
	GenerateSQLTool = "generate_sql"
	ExecuteSQLTool  = "execute_sql"
)

// Session is the part of a session the tools drive
type Session interface {
	Query(ctx context.Context, question string, geometry spatial.Geometry) (*engine.Envelope, error)
	Execute(ctx context.Context, sql string, tables []string) (*executor.Result, error)
}

// GenerateSQLInput is the generate_sql argument object
type GenerateSQLInput struct {
	Question string         `json:"question" jsonschema:"description=Natural-language question about the connected database"`
	Geometry map[string]any `json:"geometry,omitempty" jsonschema:"description=Optional GeoJSON geometry that forces a spatial query"`
}

// ExecuteSQLInput is the execute_sql argument object
type ExecuteSQLInput struct {
	SQLQuery string   `json:"sql_query" jsonschema:"description=A single read-only SELECT or WITH statement"`
	Tables   []string `json:"tables,omitempty" jsonschema:"description=Tables the statement reads. Used to build repair context"`
}

// Tools holds the tool handlers for one session
type Tools struct {
	session Session
}

// NewTools creates the handlers
func NewTools(s Session) *Tools {
	return &Tools{session: s}
}

// New builds an MCP server with both tools registered
func New(s Session, name, version string) (*server.MCPServer, error) {
	tools := NewTools(s)

	generateSchema, err := inputSchema[GenerateSQLInput]()
	if err != nil {
		return nil, err
	}
	executeSchema, err := inputSchema[ExecuteSQLInput]()
	if err != nil {
		return nil, err
	}
	selection, err := json.Marshal(sqlgen.TableSelectionSchema())
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal table selection schema")
	}

	srv := server.NewMCPServer(name, version, server.WithToolCapabilities(false))
	srv.AddTool(mcp.NewToolWithRawSchema(GenerateSQLTool,
		"Translate a question into a read-only SQL statement for the connected database. "+
			"The statement is returned, not run. Relevant tables are picked by a model that replies with "+
			string(selection)+".",
		generateSchema), tools.GenerateSQL)
	srv.AddTool(mcp.NewToolWithRawSchema(ExecuteSQLTool,
		"Run a read-only SQL statement against the connected database. Failing statements are repaired and retried up to five times.",
		executeSchema), tools.ExecuteSQL)
	return srv, nil
}

// Serve runs srv over stdin and stdout until the client disconnects
func Serve(srv *server.MCPServer) error {
	return server.ServeStdio(srv)
}

// GenerateSQL handles generate_sql calls
func (t *Tools) GenerateSQL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input GenerateSQLInput
	if err := decodeArguments(req.Params.Arguments, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if input.Question == "" {
		return mcp.NewToolResultError("question is required"), nil
	}

	env, err := t.session.Query(ctx, input.Question, spatial.Geometry(input.Geometry))
	if err != nil {
		logger.G(ctx).WithError(err).Warn("generate_sql failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(env)
}

// ExecuteSQL handles execute_sql calls
func (t *Tools) ExecuteSQL(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var input ExecuteSQLInput
	if err := decodeArguments(req.Params.Arguments, &input); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if input.SQLQuery == "" {
		return mcp.NewToolResultError("sql_query is required"), nil
	}

	result, err := t.session.Execute(ctx, input.SQLQuery, input.Tables)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("execute_sql failed")
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(result)
}

func inputSchema[T any]() (json.RawMessage, error) {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool input schema")
	}
	return data, nil
}

// decodeArguments decodes the loosely typed argument map into v using its
// json tags, accepting numbers and booleans sent as strings
func decodeArguments(args any, v any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           v,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errors.Wrap(err, "failed to create argument decoder")
	}
	if err := decoder.Decode(args); err != nil {
		return errors.Wrap(err, "invalid arguments")
	}
	return nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal tool result")
	}
	return mcp.NewToolResultText(string(data)), nil
}
