// Package todo talks to the farm todo REST backend and turns its todos
// into calendar events.
package todo

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Todo is one backend todo as it appears on the wire.
//
// The backend is inconsistent about naming: list endpoints return
// "task_id" and "field", some serializers "id" and "field_id", and the
// field is occasionally a nested object. UnmarshalJSON accepts all of
// them.
type Todo struct {
	TaskID      int
	FieldID     int
	TaskName    string
	TaskContent string
	StartDate   string
	Period      int // days; <= 0 means one day
	Cycle       int // days between repetitions; <= 0 means none
	IsPest      bool
	Completed   bool
}

type wireTodo struct {
	TaskID      json.RawMessage `json:"task_id"`
	ID          json.RawMessage `json:"id"`
	Field       json.RawMessage `json:"field"`
	FieldID     json.RawMessage `json:"field_id"`
	TaskName    string          `json:"task_name"`
	TaskContent *string         `json:"task_content"`
	StartDate   string          `json:"start_date"`
	Period      json.RawMessage `json:"period"`
	Cycle       json.RawMessage `json:"cycle"`
	IsPest      bool            `json:"is_pest"`
	Completed   bool            `json:"completed"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Todo) UnmarshalJSON(data []byte) error {
	var w wireTodo
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	out := Todo{
		TaskName:  w.TaskName,
		StartDate: w.StartDate,
		IsPest:    w.IsPest,
		Completed: w.Completed,
	}
	if w.TaskContent != nil {
		out.TaskContent = *w.TaskContent
	}

	var err error
	if out.TaskID, err = firstInt(w.TaskID, w.ID); err != nil {
		return fmt.Errorf("todo: task id: %w", err)
	}
	if out.FieldID, err = firstInt(w.Field, w.FieldID); err != nil {
		return fmt.Errorf("todo: field: %w", err)
	}
	if out.Period, err = flexInt(w.Period); err != nil {
		return fmt.Errorf("todo: period: %w", err)
	}
	if out.Cycle, err = flexInt(w.Cycle); err != nil {
		return fmt.Errorf("todo: cycle: %w", err)
	}

	*t = out
	return nil
}

// firstInt returns the first non-empty value of raws as an int.
func firstInt(raws ...json.RawMessage) (int, error) {
	for _, raw := range raws {
		if isNull(raw) {
			continue
		}
		return flexInt(raw)
	}
	return 0, nil
}

// flexInt decodes a number, a numeric string, or an object carrying an
// "id" / "field_id" member. null and absent decode to 0.
func flexInt(raw json.RawMessage) (int, error) {
	if isNull(raw) {
		return 0, nil
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return 0, nil
		}
		return strconv.Atoi(s)
	case '{':
		var obj struct {
			ID      json.RawMessage `json:"id"`
			FieldID json.RawMessage `json:"field_id"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return 0, err
		}
		return firstInt(obj.ID, obj.FieldID)
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return 0, err
		}
		i, err := n.Int64()
		if err != nil {
			// Decimal periods ("3.0") come from some admin exports.
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, err
			}
			return int(f), nil
		}
		return int(i), nil
	}
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// NewTodo is the create payload.
type NewTodo struct {
	TaskName    string `json:"task_name"`
	TaskContent string `json:"task_content,omitempty"`
	StartDate   string `json:"start_date"`
	Period      int    `json:"period"`
	Cycle       int    `json:"cycle,omitempty"`
	IsPest      bool   `json:"is_pest"`
}
