package api

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"

	"gtdsync/domain"
	"gtdsync/repository"
	"gtdsync/session"
)

// boardResponse is the full view pushed to stream clients on every change.
type boardResponse struct {
	Sections      map[domain.Section][]domain.Task `json:"sections"`
	TodayProgress int                              `json:"todayProgress"`
	Projects      []repository.ProjectView         `json:"projects"`
	Orphans       []domain.Task                    `json:"orphans"`
	Status        session.SyncStatus               `json:"status"`
}

func board(s *session.Session) boardResponse {
	resp := boardResponse{Sections: make(map[domain.Section][]domain.Task, len(domain.Sections)), Status: s.Status()}
	for _, sec := range domain.Sections {
		tasks := s.Board(sec)
		domain.SortTasks(tasks)
		resp.Sections[sec] = tasks
	}
	resp.TodayProgress = domain.Progress(resp.Sections[domain.SectionToday])
	resp.Projects, resp.Orphans = repository.Views(s.Projects, s.Tasks)
	return resp
}

// stream pushes the board on every change until the client goes away or the
// session is closed by sign-out or shutdown.
func (h *handlers) stream(c echo.Context, s *session.Session) error {
	release, ok := h.sessions.Attach(s)
	if !ok {
		return fail(c, "session", domain.ErrSessionClosed)
	}
	defer release()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	taskCh, stopTasks := s.Tasks.Watch()
	defer stopTasks()
	projectCh, stopProjects := s.Projects.Watch()
	defer stopProjects()
	settingsCh, stopSettings := s.Settings.Watch()
	defer stopSettings()

	ctx := c.Request().Context()
	for {
		select {
		case <-s.Done():
			return nil
		default:
		}
		data, err := sonic.Marshal(board(s))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
			return nil
		}
		res.Flush()

		select {
		case <-ctx.Done():
			return nil
		case <-s.Done():
			return nil
		case <-taskCh:
		case <-projectCh:
		case <-settingsCh:
		}
	}
}

// sonicSerializer makes echo encode and decode JSON with sonic.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i any, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

func (sonicSerializer) Deserialize(c echo.Context, i any) error {
	if err := sonic.ConfigStd.NewDecoder(c.Request().Body).Decode(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	return nil
}
