package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

func TestNewUIState(t *testing.T) {
	state := NewUIState("globus", []Row{
		{RequestID: "R2", ExternalID: "E1", State: "DONE"},
		{RequestID: "R1", ExternalID: "E1", State: "DONE"},
		{RequestID: "R3", ExternalID: "E0", State: "SUBMITTED"},
		{RequestID: "R4", ExternalID: "E2", State: "FAILED"},
	}, time.Now())

	if state.Done != 2 || state.Failed != 1 || state.Submitted != 1 {
		t.Errorf("Unexpected counts %+v", state)
	}
	if state.Rows[0].ExternalID != "E0" || state.Rows[1].RequestID != "R1" {
		t.Errorf("Rows not sorted: %+v", state.Rows)
	}
	if got := state.Fraction(); got != 0.75 {
		t.Errorf("Fraction() = %v; want 0.75", got)
	}
	if state.Finished() {
		t.Error("State with a submitted request is not finished")
	}
}

func TestUIState_Finished(t *testing.T) {
	if (&UIState{}).Finished() {
		t.Error("Empty state must not count as finished")
	}
	state := NewUIState("globus", []Row{{RequestID: "R1", State: "FAILED"}}, time.Time{})
	if !state.Finished() {
		t.Error("Expected finished state")
	}
}

func TestFormatAge(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t        time.Time
		expected string
	}{
		{time.Time{}, "never"},
		{now, "just now"},
		{now.Add(-5 * time.Second), "5s ago"},
		{now.Add(-48 * time.Hour), "> 1d ago"},
	}

	for _, tt := range tests {
		result := formatAge(tt.t, now)
		if result != tt.expected {
			t.Errorf("formatAge(%v) = %v; want %v", tt.t, result, tt.expected)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("short", 10); got != "short" {
		t.Errorf("truncate kept %q", got)
	}
	if got := truncate("0123456789abcdef", 10); got != "...9abcdef" {
		t.Errorf("truncate() = %q", got)
	}
}

func TestTUIModelInitialization(t *testing.T) {
	model := NewTUIModel(func(context.Context) (*UIState, error) { return &UIState{}, nil }, time.Second)

	view := model.View()
	if !strings.Contains(view, "Initializing...") {
		t.Errorf("Expected Initializing view when width is 0")
	}
}

func TestTUIModel_PollResult(t *testing.T) {
	model := NewTUIModel(func(context.Context) (*UIState, error) { return nil, nil }, time.Second)
	updated, _ := model.Update(tea.WindowSizeMsg{Width: 120, Height: 40})

	state := NewUIState("globus", []Row{{RequestID: "R1", ExternalID: "E1", State: "DONE"}}, time.Now())
	updated, cmd := updated.Update(PollResultMsg{State: state})
	if cmd == nil {
		t.Error("Expected the next poll to be scheduled")
	}
	view := updated.View()
	if !strings.Contains(view, "R1") || !strings.Contains(view, "All transfers finished!") {
		t.Errorf("Unexpected view:\n%s", view)
	}

	updated, _ = updated.Update(PollResultMsg{Err: errors.New("backend down")})
	view = updated.View()
	if !strings.Contains(view, "backend down") {
		t.Errorf("Expected poll error in view:\n%s", view)
	}
	if !strings.Contains(view, "R1") {
		t.Error("Failed poll must keep the previous rows")
	}
}
