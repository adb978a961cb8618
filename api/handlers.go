package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"gtdsync/domain"
	"gtdsync/repository"
	"gtdsync/session"
)

const (
	maxBodyBytes         = 64 << 10
	headerIdempotencyKey = "Idempotency-Key"
)

var errDuplicateCommand = errors.New("duplicate command")

type handlers struct {
	sessions *SessionManager
	auth     Authenticator
	dedup    Deduper
	log      *log.Logger
	now      func() time.Time
}

// Register wires up all API routes on the provided Echo instance. dedup may
// be nil, in which case Idempotency-Key headers are ignored.
func Register(e *echo.Echo, sessions *SessionManager, auth Authenticator, dedup Deduper, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	h := &handlers{sessions: sessions, auth: auth, dedup: dedup, log: logger, now: time.Now}
	e.JSONSerializer = sonicSerializer{}

	e.GET("/healthz", healthz)

	g := e.Group("/api")
	g.GET("/tasks", h.route("tasks.list", h.listTasks))
	g.GET("/sections/:section", h.route("sections.get", h.getSection))
	g.GET("/agenda", h.route("agenda.get", h.getAgenda))
	g.GET("/projects", h.route("projects.list", h.listProjects))
	g.GET("/categories", h.route("categories.list", h.listCategories))
	g.GET("/status", h.route("status.get", h.getStatus))
	g.GET("/settings", h.route("settings.get", h.getSettings))
	g.GET("/stream", tokenFromQuery(h.route("stream", h.stream)))

	g.POST("/tasks", h.command("tasks.create", h.createTask))
	g.PATCH("/tasks/:id", h.command("tasks.update", h.updateTask))
	g.DELETE("/tasks/:id", h.command("tasks.delete", h.deleteTask))
	g.POST("/tasks/:id/toggle", h.command("tasks.toggle", h.toggleTask))
	g.POST("/tasks/:id/move", h.command("tasks.move", h.moveTask))
	g.POST("/sections/:section/order", h.route("sections.reorder", h.reorderSection))
	g.POST("/projects", h.command("projects.create", h.createProject))
	g.DELETE("/projects/:id", h.command("projects.delete", h.deleteProject))
	g.POST("/categories", h.command("categories.create", h.createCategory))
	g.PATCH("/settings", h.command("settings.update", h.updateSettings))

	g.DELETE("/session", observe("session.delete", logger, h.signOut))
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

type errorResponse struct {
	Error string `json:"error"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errMissingAuthorization), errors.Is(err, errBadAuthorization):
		return http.StatusUnauthorized
	case errors.Is(err, errDuplicateCommand):
		return http.StatusConflict
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case domain.IsRemoteWrite(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func fail(c echo.Context, stage string, err error) error {
	metricsFrom(c).SetErrorStage(stage)
	return c.JSON(statusFor(err), errorResponse{Error: err.Error()})
}

// route authenticates the caller and resolves their session before fn runs.
func (h *handlers) route(name string, fn func(echo.Context, *session.Session) error) echo.HandlerFunc {
	return observe(name, h.log, func(c echo.Context) error {
		m := metricsFrom(c)
		authStart := time.Now()
		id, err := h.auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
		m.ObserveAuth(time.Since(authStart))
		if err != nil {
			m.SetErrorStage("auth")
			return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
		}
		m.SetUser(id.UID)
		s, err := h.sessions.Get(c.Request().Context(), id)
		if err != nil {
			return fail(c, "session", err)
		}
		return fn(c, s)
	})
}

// tokenFromQuery lets EventSource clients, which cannot set headers, pass the
// bearer token as ?token=.
func tokenFromQuery(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		if req.Header.Get(echo.HeaderAuthorization) == "" {
			if token := c.QueryParam("token"); token != "" {
				req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
			}
		}
		return next(c)
	}
}

func decodeBody(c echo.Context, dst any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &domain.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func parseSection(raw string) (domain.Section, error) {
	s := domain.Section(strings.ToLower(strings.TrimSpace(raw)))
	if !s.Valid() {
		return "", &domain.ValidationError{Field: "section", Reason: fmt.Sprintf("unknown section %q", raw)}
	}
	return s, nil
}

type tasksResponse struct {
	Tasks []domain.Task `json:"tasks"`
}

func (h *handlers) listTasks(c echo.Context, s *session.Session) error {
	var f domain.TaskFilter
	if raw := c.QueryParam("section"); raw != "" {
		sec, err := parseSection(raw)
		if err != nil {
			return fail(c, "invalid_filter", err)
		}
		f.Section = sec
	}
	f.Category = c.QueryParam("category")
	f.Query = c.QueryParam("q")
	if raw := c.QueryParam("completed"); raw != "" {
		done, err := strconv.ParseBool(raw)
		if err != nil {
			return fail(c, "invalid_filter", &domain.ValidationError{Field: "completed", Reason: "must be a boolean"})
		}
		f.Completed = &done
	}
	tasks := s.Tasks.Filtered(f)
	metricsFrom(c).SetItemsReturned(len(tasks))
	return c.JSON(http.StatusOK, tasksResponse{Tasks: tasks})
}

type sectionResponse struct {
	Section  domain.Section `json:"section"`
	Tasks    []domain.Task  `json:"tasks"`
	Progress *int           `json:"progress,omitempty"`
}

func (h *handlers) getSection(c echo.Context, s *session.Session) error {
	sec, err := parseSection(c.Param("section"))
	if err != nil {
		return fail(c, "invalid_section", err)
	}
	resp := sectionResponse{Section: sec, Tasks: s.Board(sec)}
	domain.SortTasks(resp.Tasks)
	if sec == domain.SectionToday {
		p := domain.Progress(resp.Tasks)
		resp.Progress = &p
	}
	metricsFrom(c).SetItemsReturned(len(resp.Tasks))
	return c.JSON(http.StatusOK, resp)
}

type agendaResponse struct {
	Overdue  []domain.Task `json:"overdue"`
	DueToday []domain.Task `json:"dueToday"`
}

func (h *handlers) getAgenda(c echo.Context, s *session.Session) error {
	all := s.Tasks.All()
	now := h.now()
	resp := agendaResponse{Overdue: domain.Overdue(all, now), DueToday: domain.DueToday(all, now)}
	metricsFrom(c).SetItemsReturned(len(resp.Overdue) + len(resp.DueToday))
	return c.JSON(http.StatusOK, resp)
}

type projectsResponse struct {
	Projects []repository.ProjectView `json:"projects"`
	Orphans  []domain.Task            `json:"orphans"`
}

func (h *handlers) listProjects(c echo.Context, s *session.Session) error {
	views, orphans := repository.Views(s.Projects, s.Tasks)
	metricsFrom(c).SetItemsReturned(len(views))
	return c.JSON(http.StatusOK, projectsResponse{Projects: views, Orphans: orphans})
}

func (h *handlers) listCategories(c echo.Context, s *session.Session) error {
	cats := s.Categories.List()
	metricsFrom(c).SetItemsReturned(len(cats))
	return c.JSON(http.StatusOK, map[string][]domain.Category{"categories": cats})
}

func (h *handlers) getSettings(c echo.Context, s *session.Session) error {
	return c.JSON(http.StatusOK, s.Settings.Get())
}

func (h *handlers) getStatus(c echo.Context, s *session.Session) error {
	return c.JSON(http.StatusOK, s.Status())
}

func (h *handlers) signOut(c echo.Context) error {
	id, err := h.auth.IdentityFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
	if err != nil {
		metricsFrom(c).SetErrorStage("auth")
		return c.JSON(http.StatusUnauthorized, errorResponse{Error: err.Error()})
	}
	metricsFrom(c).SetUser(id.UID)
	h.sessions.SignOut(id.UID)
	return c.NoContent(http.StatusNoContent)
}
