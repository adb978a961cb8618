// Package calendar mirrors tasks that have a due date into a Google Calendar.
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

// taskIDProperty is the private extended property linking an event to its task.
const taskIDProperty = "gtdTaskId"

// Events is the part of the Calendar API the syncer uses.
type Events interface {
	FindByTaskID(ctx context.Context, taskID string) (*gcal.Event, error)
	Insert(ctx context.Context, ev *gcal.Event) (*gcal.Event, error)
	Patch(ctx context.Context, eventID string, patch *gcal.Event) (*gcal.Event, error)
	Delete(ctx context.Context, eventID string) error
}

// GoogleEvents talks to one calendar of the Google Calendar API.
type GoogleEvents struct {
	srv        *gcal.Service
	calendarID string
}

// NewGoogleEvents builds the calendar client on top of an authorized HTTP
// client.
func NewGoogleEvents(ctx context.Context, client *http.Client, calendarID string) (*GoogleEvents, error) {
	srv, err := gcal.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("calendar service: %w", err)
	}
	return &GoogleEvents{srv: srv, calendarID: calendarID}, nil
}

func (g *GoogleEvents) FindByTaskID(ctx context.Context, taskID string) (*gcal.Event, error) {
	events, err := g.srv.Events.List(g.calendarID).
		PrivateExtendedProperty(fmt.Sprintf("%s=%s", taskIDProperty, taskID)).
		ShowDeleted(false).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("search events: %w", err)
	}
	if len(events.Items) == 0 {
		return nil, nil
	}
	return events.Items[0], nil
}

func (g *GoogleEvents) Insert(ctx context.Context, ev *gcal.Event) (*gcal.Event, error) {
	return g.srv.Events.Insert(g.calendarID, ev).Context(ctx).Do()
}

func (g *GoogleEvents) Patch(ctx context.Context, eventID string, patch *gcal.Event) (*gcal.Event, error) {
	return g.srv.Events.Patch(g.calendarID, eventID, patch).Context(ctx).Do()
}

// Delete removes the event. Events that are already gone are not an error.
func (g *GoogleEvents) Delete(ctx context.Context, eventID string) error {
	err := g.srv.Events.Delete(g.calendarID, eventID).Context(ctx).Do()
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && (gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone) {
		return nil
	}
	return err
}
