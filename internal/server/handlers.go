package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oklog/ulid/v2"

	"github.com/claimboard/claimboard/internal/board"
	"github.com/claimboard/claimboard/internal/task"
	"github.com/claimboard/claimboard/pkg/cerr"
)

type agentPayload struct {
	Name         string   `json:"name"`
	Capabilities []string `json:"capabilities"`
}

func (a agentPayload) toAgent() task.Agent {
	return task.Agent{Name: a.Name, Capabilities: a.Capabilities}
}

// agentFromQuery builds an agent from ?agent= and ?capabilities= (comma
// separated), used by the read-only endpoints.
func agentFromQuery(r *http.Request) task.Agent {
	agent := task.Agent{Name: r.URL.Query().Get("agent")}
	if caps := r.URL.Query().Get("capabilities"); caps != "" {
		for _, c := range strings.Split(caps, ",") {
			if c = strings.TrimSpace(c); c != "" {
				agent.Capabilities = append(agent.Capabilities, c)
			}
		}
	}
	return agent
}

func decodeJSON(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return cerr.NewError(cerr.InvalidArgument, "invalid request body", err)
	}
	return nil
}

type createTaskRequest struct {
	BoardID              string   `json:"board_id"`
	ColumnID             string   `json:"column_id"`
	Title                string   `json:"title"`
	Priority             *int     `json:"priority"`
	DependsOn            []string `json:"depends_on"`
	RequiredCapabilities []string `json:"required_capabilities"`
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Title == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "title is required", nil)
		return
	}
	if req.BoardID == "" {
		req.BoardID = board.DefaultBoardID
	}
	b, err := s.boards.Get(ctx, req.BoardID)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.ColumnID == "" {
		req.ColumnID = b.Columns[0].ID
	} else if _, ok := b.Column(req.ColumnID); !ok {
		cerr.SetNewJSONError(ctx, cerr.NotFound, "column not found", nil)
		return
	}

	now := time.Now()
	t := &task.Task{
		ID:                   ulid.Make().String(),
		BoardID:              b.ID,
		ColumnID:             req.ColumnID,
		Title:                req.Title,
		Status:               task.StatusOpen,
		Priority:             req.Priority,
		DependsOn:            req.DependsOn,
		RequiredCapabilities: req.RequiredCapabilities,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.tasks.Create(ctx, t); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponseWithStatus(ctx, http.StatusCreated, t)
}

type listTasksResponse struct {
	Tasks []*task.Task `json:"tasks"`
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	where := task.Where{
		BoardID:  r.URL.Query().Get("board"),
		ColumnID: r.URL.Query().Get("column"),
	}
	if status := r.URL.Query().Get("status"); status != "" {
		st := task.Status(status)
		if !st.Valid() {
			cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "invalid status filter", nil)
			return
		}
		where.Status = st
	}
	tasks, err := s.tasks.Find(ctx, where)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if tasks == nil {
		tasks = []*task.Task{}
	}
	cerr.SetJSONResponse(ctx, listTasksResponse{Tasks: tasks})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.tasks.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) nextTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	t, err := s.coordinator.Next(ctx,
		r.URL.Query().Get("board"),
		r.URL.Query().Get("column"),
		agentFromQuery(r),
	)
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type claimRequest struct {
	BoardID  string       `json:"board_id"`
	ColumnID string       `json:"column_id"`
	Agent    agentPayload `json:"agent"`
}

func (s *Server) claimTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.Agent.Name == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "agent.name is required", nil)
		return
	}
	t, err := s.coordinator.Claim(ctx, req.BoardID, req.ColumnID, req.Agent.toAgent())
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type unclaimRequest struct {
	Reason string       `json:"reason"`
	Agent  agentPayload `json:"agent"`
}

func (s *Server) unclaimTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req unclaimRequest
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.coordinator.Unclaim(ctx, chi.URLParam(r, "id"), req.Reason, req.Agent.toAgent())
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type completeRequest struct {
	Agent agentPayload `json:"agent"`
}

func (s *Server) completeTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req completeRequest
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	t, err := s.coordinator.Complete(ctx, chi.URLParam(r, "id"), req.Agent.toAgent())
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

type moveRequest struct {
	ColumnID string       `json:"column"`
	Agent    agentPayload `json:"agent"`
}

func (s *Server) moveTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req moveRequest
	if err := decodeJSON(r, &req); err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	if req.ColumnID == "" {
		cerr.SetNewJSONError(ctx, cerr.InvalidArgument, "column is required", nil)
		return
	}
	t, err := s.coordinator.Move(ctx, chi.URLParam(r, "id"), req.ColumnID, req.Agent.toAgent())
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, t)
}

func (s *Server) validateTask(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	report, err := s.validator.Validate(ctx, chi.URLParam(r, "id"), agentFromQuery(r))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, report)
}

func (s *Server) getBoard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	b, err := s.boards.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		cerr.SetJSONError(ctx, err)
		return
	}
	cerr.SetJSONResponse(ctx, b)
}
