package web

import (
	"strings"
	"time"

	"farmcal/internal/calendar"
	appLog "farmcal/internal/log"
	"farmcal/internal/model"
	"farmcal/internal/todo"
)

const dateLayout = "2006-01-02"

// gridResponse is the JSON response shape for /api/grid.
type gridResponse struct {
	Month     string       `json:"month"`
	Field     int          `json:"field"`
	WeekStart string       `json:"week_start"`
	MaxLanes  int          `json:"max_lanes"`
	LaneMode  string       `json:"lane_mode"`
	Policy    string       `json:"grid_policy"`
	Weeks     [][]cellDTO  `json:"weeks"`
	Skipped   []skippedDTO `json:"skipped,omitempty"`
}

type cellDTO struct {
	Date           string    `json:"date"`
	InCurrentMonth bool      `json:"in_current_month"`
	IsPrevMonth    bool      `json:"is_prev_month"`
	IsNextMonth    bool      `json:"is_next_month"`
	IsToday        bool      `json:"is_today"`
	Events         []laneDTO `json:"events"`
	OverflowCount  int       `json:"overflow_count"`
}

// laneDTO is one bar segment in a day cell.
type laneDTO struct {
	Lane        int    `json:"lane"`
	EventID     string `json:"event_id"`
	Title       string `json:"title"`
	Color       string `json:"color"`
	Kind        string `json:"kind"`
	Completed   bool   `json:"completed"`
	IsStart     bool   `json:"is_start"`
	IsEnd       bool   `json:"is_end"`
	IsMiddle    bool   `json:"is_middle"`
	IsSingleDay bool   `json:"is_single_day"`
}

type skippedDTO struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}

// eventsResponse is the JSON response shape for /api/events.
type eventsResponse struct {
	Month           string     `json:"month"`
	Field           int        `json:"field"`
	Events          []eventDTO `json:"events"`
	DisplayTimeZone string     `json:"display_timezone"`
}

// eventDTO is a JSON-friendly view of a calendar event. Start and End are
// calendar days; End is inclusive.
type eventDTO struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Content   string `json:"content,omitempty"`
	Start     string `json:"start"`
	End       string `json:"end"`
	Color     string `json:"color"`
	Kind      string `json:"kind"`
	FieldID   int    `json:"field_id"`
	SourceID  string `json:"source_id"`
	Completed bool   `json:"completed"`
}

type createTodoRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Start   string `json:"start"`
	Period  int    `json:"period"`
	Cycle   int    `json:"cycle"`
	Kind    string `json:"kind"`
}

// todoResponse is returned by the single-todo endpoints. Event is absent
// when the backend's copy has no usable start date.
type todoResponse struct {
	TaskID  int       `json:"task_id"`
	FieldID int       `json:"field_id"`
	Cycle   int       `json:"cycle,omitempty"`
	Event   *eventDTO `json:"event,omitempty"`
}

func newGridResponse(g *calendar.Grid, field int) gridResponse {
	resp := gridResponse{
		Month:     g.Month.String(),
		Field:     field,
		WeekStart: strings.ToLower(g.WeekStart.String()),
		MaxLanes:  g.MaxLanes,
		LaneMode:  string(g.LaneMode),
		Policy:    string(g.Policy),
	}

	for _, row := range g.Rows() {
		week := make([]cellDTO, 0, len(row))
		for _, c := range row {
			cell := cellDTO{
				Date:           c.Date.Format(dateLayout),
				InCurrentMonth: c.InCurrentMonth,
				IsPrevMonth:    c.IsPrevMonth,
				IsNextMonth:    c.IsNextMonth,
				IsToday:        c.IsToday,
				Events:         make([]laneDTO, 0, len(c.Events)),
				OverflowCount:  c.OverflowCount,
			}
			for _, a := range c.Events {
				cell.Events = append(cell.Events, laneDTO{
					Lane:        a.Lane,
					EventID:     a.Event.ID,
					Title:       a.Event.Title,
					Color:       a.Event.Color,
					Kind:        string(a.Event.Kind),
					Completed:   a.Event.Completed,
					IsStart:     a.IsStart,
					IsEnd:       a.IsEnd,
					IsMiddle:    a.IsMiddle,
					IsSingleDay: a.IsSingleDay,
				})
			}
			week = append(week, cell)
		}
		resp.Weeks = append(resp.Weeks, week)
	}

	for _, sk := range g.Skipped {
		resp.Skipped = append(resp.Skipped, skippedDTO{EventID: sk.EventID, Reason: sk.Err.Error()})
	}
	return resp
}

func newTodoResponse(t todo.Todo, loc *time.Location) todoResponse {
	resp := todoResponse{TaskID: t.TaskID, FieldID: t.FieldID, Cycle: t.Cycle}
	ev, err := todo.Normalize(t, loc)
	if err != nil {
		appLog.Warn("todo could not be normalized", "task_id", t.TaskID, "err", err)
		return resp
	}
	dto := newEventDTO(ev, loc)
	resp.Event = &dto
	return resp
}

func newEventDTO(ev model.Event, loc *time.Location) eventDTO {
	return eventDTO{
		ID:        ev.ID,
		Title:     ev.Title,
		Content:   ev.Content,
		Start:     ev.Start.In(loc).Format(dateLayout),
		End:       ev.End.In(loc).Format(dateLayout),
		Color:     ev.Color,
		Kind:      string(ev.Kind),
		FieldID:   ev.FieldID,
		SourceID:  ev.SourceID,
		Completed: ev.Completed,
	}
}

// validate checks the request and builds the backend payload. It returns
// the todo's first and last day, or a client-facing message on failure.
func (req createTodoRequest) validate(loc *time.Location) (todo.NewTodo, time.Time, time.Time, string) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return todo.NewTodo{}, time.Time{}, time.Time{}, "title is required"
	}
	start, err := calendar.ParseDay(req.Start, loc)
	if err != nil {
		return todo.NewTodo{}, time.Time{}, time.Time{}, "start must be YYYY-MM-DD"
	}
	period := req.Period
	if period <= 0 {
		period = 1
	}
	if req.Cycle < 0 {
		return todo.NewTodo{}, time.Time{}, time.Time{}, "cycle must not be negative"
	}

	content := req.Content
	if content == "" {
		content = title
	}
	in := todo.NewTodo{
		TaskName:    title,
		TaskContent: content,
		StartDate:   start.Format(time.RFC3339),
		Period:      period,
		Cycle:       req.Cycle,
		IsPest:      model.ParseKind(req.Kind) == model.KindPest,
	}
	return in, start, start.AddDate(0, 0, period-1), ""
}
