package calendar

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	gcal "google.golang.org/api/calendar/v3"

	"gtdsync/domain"
	"gtdsync/storage"
)

const dateLayout = "2006-01-02"

// Queue is the source of change events.
type Queue interface {
	Dequeue(ctx context.Context) (*storage.Message, error)
	Delete(ctx context.Context, m *storage.Message) error
}

// Syncer keeps calendar events in step with task change events. Only tasks
// with a due date get an event; losing the due date or deleting the task
// removes it.
type Syncer struct {
	events Events
	// UserID limits mirroring to one user's tasks when set.
	UserID string
	Poll   time.Duration
	now    func() time.Time
}

func NewSyncer(events Events) *Syncer {
	return &Syncer{events: events, Poll: time.Second, now: time.Now}
}

// Apply mirrors one change event.
func (s *Syncer) Apply(ctx context.Context, ev storage.ChangeEvent) error {
	if s.UserID != "" && ev.UserID != s.UserID {
		return nil
	}
	switch ev.Type {
	case storage.TaskDeleted:
		return s.remove(ctx, ev.TaskID)
	case storage.TaskUpserted:
		if ev.Task == nil || ev.Task.DueDate == nil {
			return s.remove(ctx, ev.TaskID)
		}
		return s.upsert(ctx, *ev.Task)
	}
	log.WithField("type", ev.Type).Warn("unknown change type")
	return nil
}

func (s *Syncer) upsert(ctx context.Context, t domain.Task) error {
	target := eventFor(t, s.now())
	existing, err := s.events.FindByTaskID(ctx, t.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		if _, err := s.events.Insert(ctx, target); err != nil {
			return fmt.Errorf("insert event for %s: %w", t.ID, err)
		}
		log.WithField("task", t.ID).Debug("calendar event created")
		return nil
	}
	patch := eventPatch(existing, target)
	if patch == nil {
		return nil
	}
	if _, err := s.events.Patch(ctx, existing.Id, patch); err != nil {
		return fmt.Errorf("patch event %s: %w", existing.Id, err)
	}
	log.WithField("task", t.ID).Debug("calendar event updated")
	return nil
}

func (s *Syncer) remove(ctx context.Context, taskID string) error {
	existing, err := s.events.FindByTaskID(ctx, taskID)
	if err != nil || existing == nil {
		return err
	}
	if err := s.events.Delete(ctx, existing.Id); err != nil {
		return fmt.Errorf("delete event %s: %w", existing.Id, err)
	}
	log.WithField("task", taskID).Debug("calendar event deleted")
	return nil
}

// eventFor renders t as an all-day event on its due date. Completed tasks get
// a check mark and overdue ones an exclamation mark.
func eventFor(t domain.Task, now time.Time) *gcal.Event {
	due := t.DueDate.UTC()
	summary := t.Title
	switch {
	case t.Completed:
		summary = "✓ " + summary
	case due.Before(now):
		summary = "! " + summary
	}
	return &gcal.Event{
		Summary:     summary,
		Description: t.Description,
		Start:       &gcal.EventDateTime{Date: due.Format(dateLayout)},
		End:         &gcal.EventDateTime{Date: due.AddDate(0, 0, 1).Format(dateLayout)},
		ColorId:     colorFor(t.Priority),
		ExtendedProperties: &gcal.EventExtendedProperties{
			Private: map[string]string{taskIDProperty: t.ID},
		},
	}
}

func colorFor(priority int) string {
	switch priority {
	case domain.PriorityHighest:
		return "11"
	case domain.PriorityHigh:
		return "6"
	case domain.PriorityLow, domain.PriorityLowest:
		return "8"
	}
	return ""
}

// eventPatch returns the fields of target that differ from existing, or nil.
func eventPatch(existing, target *gcal.Event) *gcal.Event {
	patch := &gcal.Event{}
	changed := false
	if existing.Summary != target.Summary {
		patch.Summary = target.Summary
		changed = true
	}
	if existing.Description != target.Description {
		patch.Description = target.Description
		patch.ForceSendFields = append(patch.ForceSendFields, "Description")
		changed = true
	}
	if existing.ColorId != target.ColorId {
		patch.ColorId = target.ColorId
		patch.ForceSendFields = append(patch.ForceSendFields, "ColorId")
		changed = true
	}
	if dateOf(existing.Start) != target.Start.Date || dateOf(existing.End) != target.End.Date {
		patch.Start = target.Start
		patch.End = target.End
		changed = true
	}
	if !changed {
		return nil
	}
	return patch
}

func dateOf(d *gcal.EventDateTime) string {
	if d == nil {
		return ""
	}
	return d.Date
}

// Run drains q until ctx is done. Messages that fail to apply stay on the
// queue and are retried once their visibility timeout expires; undecodable
// messages are dropped.
func (s *Syncer) Run(ctx context.Context, q Queue) {
	for {
		if ctx.Err() != nil {
			return
		}
		msg, err := q.Dequeue(ctx)
		switch {
		case err != nil && msg == nil:
			log.WithError(err).Warn("dequeue change")
			s.sleep(ctx)
			continue
		case err != nil:
			log.WithError(err).WithField("message", msg.ID).Error("dropping malformed change")
			s.ack(ctx, q, msg)
			continue
		case msg == nil:
			s.sleep(ctx)
			continue
		}

		if err := s.Apply(ctx, msg.Event); err != nil {
			log.WithError(err).WithFields(log.Fields{"task": msg.Event.TaskID, "type": msg.Event.Type}).Warn("calendar sync failed")
			continue
		}
		s.ack(ctx, q, msg)
	}
}

func (s *Syncer) ack(ctx context.Context, q Queue, msg *storage.Message) {
	if err := q.Delete(ctx, msg); err != nil {
		log.WithError(err).WithField("message", msg.ID).Warn("delete change")
	}
}

func (s *Syncer) sleep(ctx context.Context) {
	t := time.NewTimer(s.Poll)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
