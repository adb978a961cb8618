package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"gtdsync/command"
	"gtdsync/domain"
	"gtdsync/session"
)

type operationResponse struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	State   string `json:"state"`
	Error   string `json:"error,omitempty"`
}

func newOperationResponse(op *command.Operation) operationResponse {
	resp := operationResponse{ID: op.ID(), Command: op.Name(), State: op.State().String()}
	if err := op.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

// command runs fn under the caller's idempotency key and reports the
// resulting operation. With ?wait=true the response is held until the remote
// write resolves.
func (h *handlers) command(name string, fn func(echo.Context, *session.Session) (*command.Operation, error)) echo.HandlerFunc {
	return h.route(name, func(c echo.Context, s *session.Session) error {
		ops, err := h.issue(c, s.Identity.UID, func() ([]*command.Operation, error) {
			op, err := fn(c, s)
			if err != nil {
				return nil, err
			}
			return []*command.Operation{op}, nil
		})
		if err != nil {
			return fail(c, "command", err)
		}
		op := ops[0]
		if wantsWait(c) {
			if err := op.Wait(c.Request().Context()); err != nil && op.State() < command.StateRemoteConfirmed {
				return fail(c, "wait", err)
			}
		}
		return respond(c, op)
	})
}

func wantsWait(c echo.Context) bool {
	v := strings.ToLower(c.QueryParam("wait"))
	return v == "1" || v == "true"
}

func respond(c echo.Context, op *command.Operation) error {
	resp := newOperationResponse(op)
	switch op.State() {
	case command.StateRejected, command.StateRemoteFailed:
		metricsFrom(c).SetErrorStage(op.State().String())
		return c.JSON(statusFor(op.Err()), resp)
	case command.StateRemoteConfirmed, command.StateUnchanged:
		return c.JSON(http.StatusOK, resp)
	}
	return c.JSON(http.StatusAccepted, resp)
}

// issue claims the request's idempotency key before running fn. The key is
// released again if the command is rejected or its write fails, so the
// client may retry.
func (h *handlers) issue(c echo.Context, uid string, fn func() ([]*command.Operation, error)) ([]*command.Operation, error) {
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key == "" || h.dedup == nil {
		return fn()
	}
	claimed, err := h.dedup.Claim(c.Request().Context(), uid, key)
	if err != nil {
		h.log.WithError(err).WithField("user", uid).Warn("idempotency check failed")
		return fn()
	}
	if !claimed {
		return nil, errDuplicateCommand
	}

	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.dedup.Release(ctx, uid, key); err != nil {
			h.log.WithError(err).WithField("user", uid).Warn("release idempotency key")
		}
	}
	ops, err := fn()
	if err != nil {
		release()
		return nil, err
	}
	for _, op := range ops {
		if op.State() == command.StateRejected {
			release()
			return ops, nil
		}
	}
	go func() {
		for _, op := range ops {
			<-op.Done()
			if op.Err() != nil {
				release()
				return
			}
		}
	}()
	return ops, nil
}

func (h *handlers) createTask(c echo.Context, s *session.Session) (*command.Operation, error) {
	var in domain.NewTask
	if err := decodeBody(c, &in); err != nil {
		return nil, err
	}
	return s.Commands.CreateTask(c.Request().Context(), in), nil
}

func (h *handlers) updateTask(c echo.Context, s *session.Session) (*command.Operation, error) {
	var p domain.TaskPatch
	if err := decodeBody(c, &p); err != nil {
		return nil, err
	}
	return s.Commands.UpdateTask(c.Request().Context(), c.Param("id"), p), nil
}

func (h *handlers) deleteTask(c echo.Context, s *session.Session) (*command.Operation, error) {
	return s.Commands.DeleteTask(c.Request().Context(), c.Param("id")), nil
}

func (h *handlers) toggleTask(c echo.Context, s *session.Session) (*command.Operation, error) {
	return s.Commands.ToggleComplete(c.Request().Context(), c.Param("id")), nil
}

type moveRequest struct {
	Section domain.Section `json:"section"`
}

func (h *handlers) moveTask(c echo.Context, s *session.Session) (*command.Operation, error) {
	var req moveRequest
	if err := decodeBody(c, &req); err != nil {
		return nil, err
	}
	return s.Commands.MoveTaskToSection(c.Request().Context(), c.Param("id"), req.Section), nil
}

func (h *handlers) createProject(c echo.Context, s *session.Session) (*command.Operation, error) {
	var in domain.NewProject
	if err := decodeBody(c, &in); err != nil {
		return nil, err
	}
	return s.Commands.CreateProject(c.Request().Context(), in), nil
}

func (h *handlers) deleteProject(c echo.Context, s *session.Session) (*command.Operation, error) {
	return s.Commands.DeleteProject(c.Request().Context(), c.Param("id")), nil
}

type categoryRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
	Icon  string `json:"icon,omitempty"`
}

func (h *handlers) createCategory(c echo.Context, s *session.Session) (*command.Operation, error) {
	var req categoryRequest
	if err := decodeBody(c, &req); err != nil {
		return nil, err
	}
	cat := domain.Category{Name: req.Name, Color: req.Color, Icon: req.Icon}
	return s.Commands.CreateCategory(c.Request().Context(), cat), nil
}

func (h *handlers) updateSettings(c echo.Context, s *session.Session) (*command.Operation, error) {
	var p domain.SettingsPatch
	if err := decodeBody(c, &p); err != nil {
		return nil, err
	}
	return s.Commands.UpdateSettings(c.Request().Context(), p), nil
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

type reorderResponse struct {
	Operations []operationResponse `json:"operations"`
}

func (h *handlers) reorderSection(c echo.Context, s *session.Session) error {
	sec, err := parseSection(c.Param("section"))
	if err != nil {
		return fail(c, "invalid_section", err)
	}
	var req reorderRequest
	if err := decodeBody(c, &req); err != nil {
		return fail(c, "decode", err)
	}
	ops, err := h.issue(c, s.Identity.UID, func() ([]*command.Operation, error) {
		return s.Commands.ReorderSection(c.Request().Context(), sec, req.IDs), nil
	})
	if err != nil {
		return fail(c, "command", err)
	}
	if wantsWait(c) {
		for _, op := range ops {
			if err := op.Wait(c.Request().Context()); err != nil && op.State() < command.StateRemoteConfirmed {
				return fail(c, "wait", err)
			}
		}
	}
	resp := reorderResponse{Operations: make([]operationResponse, 0, len(ops))}
	for _, op := range ops {
		resp.Operations = append(resp.Operations, newOperationResponse(op))
	}
	return c.JSON(http.StatusAccepted, resp)
}
