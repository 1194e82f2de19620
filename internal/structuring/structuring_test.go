package structuring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/auriclabs/auric/internal/types"
	"github.com/auriclabs/auric/pkg/Logger"
)

type scriptedCompleter struct {
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedCompleter) Complete(_ context.Context, _ string) (string, error) {
	i := s.calls
	s.calls++
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var reply string
	if i < len(s.replies) {
		reply = s.replies[i]
	}
	return reply, err
}

func testConversation() *types.Conversation {
	return &types.Conversation{
		ID:     uuid.New(),
		Status: types.StatusProcessing,
		Segments: []types.TranscriptSegment{
			{SpeakerID: 0, IsUser: true, Text: "let's plan the offsite next week", IsFinal: true},
			{SpeakerID: 1, Text: "I'll book the venue by friday", IsFinal: true},
		},
	}
}

const goodReply = `{"title":"Offsite planning","overview":"Two people plan an offsite.","emoji":"📅","category":"work","action_items":[{"description":"Book the venue by Friday"}]}`

func testConfig() Config {
	return Config{Model: "test", Timeout: 5 * time.Second, Attempts: 3}
}

func TestStructureSuccess(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{goodReply}}
	d := New(testConfig(), completer, Logger.New(true))
	conv := testConversation()

	if err := d.Structure(context.Background(), conv); err != nil {
		t.Fatalf("structure: %v", err)
	}
	if conv.Status != types.StatusCompleted {
		t.Errorf("status = %s, want completed", conv.Status)
	}
	s := conv.Structured
	if s == nil || s.Title != "Offsite planning" || s.Category != types.CategoryWork {
		t.Fatalf("structured = %+v", s)
	}
	if len(s.ActionItems) != 1 || s.ActionItems[0].Description != "Book the venue by Friday" {
		t.Errorf("action items = %+v", s.ActionItems)
	}
}

func TestStructureRetriesTransientErrors(t *testing.T) {
	completer := &scriptedCompleter{
		replies: []string{"", "", goodReply},
		errs:    []error{errors.New("rate limited"), errors.New("rate limited"), nil},
	}
	d := New(testConfig(), completer, Logger.New(true))
	conv := testConversation()

	if err := d.Structure(context.Background(), conv); err != nil {
		t.Fatalf("structure after retries: %v", err)
	}
	if completer.calls != 3 {
		t.Errorf("calls = %d, want 3", completer.calls)
	}
	if conv.Status != types.StatusCompleted {
		t.Errorf("status = %s", conv.Status)
	}
}

func TestStructureFailsAfterAttemptsExhausted(t *testing.T) {
	completer := &scriptedCompleter{
		errs: []error{errors.New("down"), errors.New("down"), errors.New("down")},
	}
	cfg := testConfig()
	cfg.Attempts = 3
	d := New(cfg, completer, Logger.New(true))
	conv := testConversation()

	err := d.Structure(context.Background(), conv)
	if err == nil {
		t.Fatal("want error")
	}
	if conv.Status != types.StatusFailed {
		t.Errorf("status = %s, want failed", conv.Status)
	}
	// the transcript is never lost
	if len(conv.Segments) != 2 {
		t.Error("segments lost on failure")
	}
}

func TestStructureRejectsGarbageThenRecovers(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"not json at all", goodReply}}
	d := New(testConfig(), completer, Logger.New(true))
	conv := testConversation()

	if err := d.Structure(context.Background(), conv); err != nil {
		t.Fatalf("structure: %v", err)
	}
	if completer.calls != 2 {
		t.Errorf("calls = %d, want 2", completer.calls)
	}
}

func TestParseStructuredHandlesFencesAndBadCategory(t *testing.T) {
	fenced := "```json\n" + `{"title":"T","overview":"O","emoji":"x","category":"nonsense","action_items":[]}` + "\n```"
	s, err := parseStructured(fenced)
	if err != nil {
		t.Fatalf("parse fenced: %v", err)
	}
	if s.Category != types.CategoryOther {
		t.Errorf("category = %s, want other fallback", s.Category)
	}

	if _, err := parseStructured(`{"overview":"no title"}`); err == nil {
		t.Error("missing title accepted")
	}
}
