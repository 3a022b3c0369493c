package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/sqlpilot/sqlpilot/pkg/connections"
	"github.com/sqlpilot/sqlpilot/pkg/engine"
	"github.com/sqlpilot/sqlpilot/pkg/intent"
	"github.com/sqlpilot/sqlpilot/pkg/logger"
	"github.com/sqlpilot/sqlpilot/pkg/memory"
	"github.com/sqlpilot/sqlpilot/pkg/sanitize"
	"github.com/sqlpilot/sqlpilot/pkg/session"
	"github.com/sqlpilot/sqlpilot/pkg/spatial"
	"github.com/sqlpilot/sqlpilot/pkg/version"
)

const geoQueryDeprecation = "[geo-query is deprecated] Use /api/query with a geometry field instead. "

// ConnectRequest opens a session for a saved connection
type ConnectRequest struct {
	ConnectionID string `json:"connection_id"`
	UserID       string `json:"user_id,omitempty"`
}

// QueryRequest asks a question. Geometry is optional GeoJSON that forces a
// spatial query.
type QueryRequest struct {
	Question string           `json:"question"`
	Geometry spatial.Geometry `json:"geometry,omitempty"`
}

// GeoQueryRequest asks a spatial question. Without a geometry the place is
// resolved from CityName or from the question.
type GeoQueryRequest struct {
	Question string           `json:"question"`
	Geometry spatial.Geometry `json:"geometry,omitempty"`
	CityName string           `json:"city_name,omitempty"`
}

// ExecuteRequest runs a generated statement
type ExecuteRequest struct {
	SQLQuery string   `json:"sql_query"`
	Tables   []string `json:"filtered_tables,omitempty"`
}

// LoadRequest replaces the conversation
type LoadRequest struct {
	HistoryData memory.Snapshot `json:"history_data"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	response := map[string]any{
		"status":     "healthy",
		"version":    version.Get().Version,
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
	}
	if counter, ok := s.sessions.(interface{ Len() int }); ok {
		response["sessions"] = counter.Len()
	}
	if stats, err := processStats(ctx); err != nil {
		logger.G(ctx).WithError(err).Debug("failed to read process stats")
	} else {
		response["process"] = stats
	}
	s.writeJSONResponse(ctx, w, response)
}

func processStats(ctx context.Context) (map[string]any, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return nil, err
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	cpu, err := proc.CPUPercentWithContext(ctx)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"rss_bytes":   mem.RSS,
		"cpu_percent": cpu,
	}, nil
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req ConnectRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.ConnectionID == "" {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "connection_id is required", nil)
		return
	}

	record, err := s.connections.Get(ctx, req.ConnectionID)
	if errors.Is(err, connections.ErrNotFound) {
		s.writeErrorResponse(ctx, w, http.StatusNotFound, "Database not found", nil)
		return
	}
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "failed to load connection", err)
		return
	}

	key := session.Key(req.UserID, record.ID)
	sess, err := s.opener.Open(ctx, key, record)
	if err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "Database connection failed: "+err.Error(), err)
		return
	}
	if err := s.sessions.Put(ctx, key, sess); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to close replaced session")
	}

	info := sess.Info()
	w.Header().Set(SessionHeader, key)
	s.writeJSONResponse(ctx, w, map[string]any{
		"status":        "success",
		"message":       fmt.Sprintf("Connected to %s database successfully", record.Provider),
		"session_key":   key,
		"session_id":    info.SessionID,
		"database_id":   info.ConnectionID,
		"database_name": info.DatabaseName,
		"database_info": map[string]any{
			"provider":        info.Provider,
			"table_count":     info.TableCount,
			"has_description": info.HasDescription,
		},
		"connected_at": info.ConnectedAt,
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	key := r.Header.Get(SessionHeader)
	if key == "" {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, SessionHeader+" header is required", nil)
		return
	}
	if err := s.sessions.Evict(ctx, key); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to close session cleanly")
	}
	s.writeJSONResponse(ctx, w, map[string]any{
		"status":  "success",
		"message": "Disconnected",
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.Question == "" {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "question is required", nil)
		return
	}

	env, err := sess.Query(ctx, req.Question, req.Geometry)
	if err != nil {
		s.writeProcessingError(ctx, w, err)
		return
	}
	s.writeJSONResponse(ctx, w, queryResponse(env))
}

// queryResponse shapes the envelope by intent so clients only see the fields
// that route produces
func queryResponse(env *engine.Envelope) map[string]any {
	response := map[string]any{
		"status":                      env.Status,
		"intent":                      env.Intent,
		"question":                    env.Question,
		"conversation_token_estimate": env.ConversationTokenEstimate,
		"llm_token_usage":             env.LLMTokenUsage,
	}

	switch env.Intent {
	case intent.SQLQuery:
		response["sql_query"] = env.SQLQuery
		response["filtered_tables"] = env.FilteredTables
		response["schema_token_size"] = env.SchemaTokenSize
		response["note"] = env.Note
	case intent.SQLSpatial:
		response["sql_query"] = env.SQLQuery
		response["sql_query_clean"] = env.SQLQueryClean
		response["sql_query_pgadmin"] = env.SQLQueryPgAdmin
		response["filtered_tables"] = env.FilteredTables
		response["schema_token_size"] = env.SchemaTokenSize
		response["geometry_provided"] = env.GeometryProvided
		response["geometry_type"] = env.GeometryType
		response["note"] = env.Note
	case intent.CasualChat, intent.SarcasticResponse:
		response["response"] = env.Response
	default:
		response["response"] = env.Response
		if env.HasSQL() {
			response["sql_query"] = env.SQLQuery
			response["filtered_tables"] = env.FilteredTables
		}
		note := env.Note
		if note == "" && env.Intent == intent.Ambiguous {
			note = "Query intent unclear. Please rephrase."
		}
		if note != "" {
			response["note"] = note
		}
	}
	if env.Error != "" {
		response["error"] = env.Error
	}
	return response
}

func (s *Server) handleGeoQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req GeoQueryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	env, err := sess.GeoQuery(ctx, req.Question, req.CityName, req.Geometry)
	var notFound *spatial.PlaceNotFoundError
	switch {
	case errors.Is(err, session.ErrGeometryMissing), errors.Is(err, session.ErrPlaceLookupUnsupported):
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	case errors.As(err, &notFound), errors.Is(err, spatial.ErrNoGeometryColumns):
		s.writeErrorResponse(ctx, w, http.StatusNotFound, err.Error(), nil)
		return
	case err != nil:
		s.writeProcessingError(ctx, w, err)
		return
	}

	generated := env.SQLQueryPgAdmin
	if generated == "" {
		generated = env.SQLQuery
	}
	if generated != "" {
		if err := sanitize.AssertReadOnly(generated); err != nil {
			s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
			return
		}
	}

	s.writeJSONResponse(ctx, w, map[string]any{
		"status":            env.Status,
		"question":          env.Question,
		"geometry_provided": env.GeometryProvided,
		"geometry_type":     env.GeometryType,
		"sql_query_clean":   env.SQLQueryClean,
		"sql_query_pgadmin": generated,
		"filtered_tables":   env.FilteredTables,
		"note":              geoQueryDeprecation + env.Note,
		"llm_token_usage":   env.LLMTokenUsage,
	})
}

// writeProcessingError maps pipeline failures to a status. Blocked writes
// are the client's fault; everything else is ours.
func (s *Server) writeProcessingError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, engine.ErrUnsafeStatement) {
		status = http.StatusBadRequest
	}
	var perr *engine.ProcessingError
	if !errors.As(err, &perr) {
		s.writeErrorResponse(ctx, w, status, "Query processing failed: "+err.Error(), err)
		return
	}
	if perr.Envelope == nil {
		s.writeErrorResponse(ctx, w, status, perr.Error(), err)
		return
	}

	// the partial answer still reports the tokens spent before the failure
	logger.G(ctx).WithError(err).Error("query processing failed")
	response := queryResponse(perr.Envelope)
	response["status"] = engine.StatusError
	response["error"] = perr.Error()
	response["code"] = status
	response["success"] = false
	s.writeJSONStatus(ctx, w, status, response)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req ExecuteRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if req.SQLQuery == "" {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, "sql_query is required", nil)
		return
	}

	result, err := sess.Execute(ctx, req.SQLQuery, req.Tables)
	var readOnly *sanitize.ReadOnlyError
	switch {
	case errors.As(err, &readOnly):
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, readOnly.Reason, nil)
		return
	case err != nil:
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, err.Error(), err)
		return
	}
	s.writeJSONResponse(ctx, w, result)
}

func (s *Server) handleIntent(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req QueryRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	got, usage := sess.Classify(ctx, req.Question)
	s.writeJSONResponse(ctx, w, map[string]any{
		"status":          "success",
		"question":        req.Question,
		"intent":          got,
		"is_sql":          got.IsSQL(),
		"llm_token_usage": usage,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	history := sess.History()
	s.writeJSONResponse(ctx, w, map[string]any{
		"status":         "success",
		"session_id":     history.SessionID,
		"created_at":     history.CreatedAt,
		"message_count":  history.MessageCount,
		"token_estimate": history.TokenEstimate,
		"messages":       history.Messages,
		"memory_config":  sess.MemoryConfig(),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	history := sess.History()
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", history.SessionID+".json"))
	s.writeJSONResponse(ctx, w, history)
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	var req LoadRequest
	if err := decodeBody(r, &req); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	sess.Load(ctx, req.HistoryData)
	history := sess.History()
	s.writeJSONResponse(ctx, w, map[string]any{
		"status":         "success",
		"message":        "Conversation history loaded successfully",
		"session_id":     history.SessionID,
		"message_count":  history.MessageCount,
		"token_estimate": history.TokenEstimate,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}

	previous := sess.History().SessionID
	if err := sess.Clear(ctx); err != nil {
		s.writeErrorResponse(ctx, w, http.StatusInternalServerError, "Failed to clear history", err)
		return
	}
	s.writeJSONResponse(ctx, w, map[string]any{
		"status":           "success",
		"message":          "Conversation history cleared",
		"previous_session": previous,
		"new_session":      sess.History().SessionID,
	})
}

type statsResponse struct {
	Status string `json:"status"`
	memory.Stats
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := s.session(w, r)
	if !ok {
		return
	}
	s.writeJSONResponse(ctx, w, statsResponse{Status: "success", Stats: sess.Stats()})
}
