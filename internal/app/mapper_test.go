package app

import "testing"

func newTestMapper() (*IdentityMapper, *MessageLog) {
	log := NewMessageLog()
	return NewIdentityMapper(log, nil, nil), log
}

func TestMapper_MessageFrameAppends(t *testing.T) {
	im, log := newTestMapper()

	im.Apply(Frame{Type: FrameMessage, Seq: 1, MessageID: 10, Text: "hello", Session: "work"})

	if log.Len() != 1 {
		t.Fatalf("log length = %d, want 1", log.Len())
	}
	m := log.At(0)
	if m.ID != 10 || m.Text != "hello" || m.Session != "work" || m.Origin != OriginBot {
		t.Fatalf("appended message = %+v", m)
	}
	if pos, ok := log.Position(10); !ok || pos != 0 {
		t.Fatalf("Position(10) = %d, %v; want 0, true", pos, ok)
	}
}

func TestMapper_EditUpdatesInPlace(t *testing.T) {
	im, log := newTestMapper()

	im.Apply(Frame{Type: FrameMessage, MessageID: 10, Text: "draft"})
	im.Apply(Frame{Type: FrameMessage, MessageID: 11, Text: "other"})
	im.Apply(Frame{Type: FrameEdit, MessageID: 10, Text: "final"})

	if log.Len() != 2 {
		t.Fatalf("edit changed log length: %d, want 2", log.Len())
	}
	if got := log.At(0).Text; got != "final" {
		t.Fatalf("edited text = %q, want %q", got, "final")
	}
	if got := log.At(1).Text; got != "other" {
		t.Fatalf("neighbor entry disturbed: %q", got)
	}
}

func TestMapper_EditEmptySessionDoesNotErase(t *testing.T) {
	im, log := newTestMapper()

	im.Apply(Frame{Type: FrameMessage, MessageID: 10, Text: "draft", Session: "work"})
	im.Apply(Frame{Type: FrameEdit, MessageID: 10, Text: "final"})

	if got := log.At(0).Session; got != "work" {
		t.Fatalf("session after edit = %q, want %q", got, "work")
	}
}

func TestMapper_EditUnknownIDAppendsFallback(t *testing.T) {
	im, log := newTestMapper()

	im.Apply(Frame{Type: FrameEdit, MessageID: 42, Text: "early revision"})

	if log.Len() != 1 {
		t.Fatalf("log length = %d, want 1", log.Len())
	}
	m := log.At(0)
	if m.ID != 42 || m.Text != "early revision" {
		t.Fatalf("fallback entry = %+v", m)
	}
}

func TestMapper_EditRepairsStaleIndex(t *testing.T) {
	im, log := newTestMapper()

	im.Apply(Frame{Type: FrameMessage, MessageID: 10, Text: "draft"})
	im.Apply(Frame{Type: FrameMessage, MessageID: 11, Text: "other"})

	// Simulate a stale cache: the index entry is lost but the entry is
	// still in the log.
	delete(log.index, 10)

	im.Apply(Frame{Type: FrameEdit, MessageID: 10, Text: "final"})

	if log.Len() != 2 {
		t.Fatalf("log length = %d, want 2", log.Len())
	}
	if got := log.At(0).Text; got != "final" {
		t.Fatalf("edit after index repair: text = %q, want %q", got, "final")
	}
	if pos, ok := log.index[10]; !ok || pos != 0 {
		t.Fatalf("index not repaired: pos %d, ok %v", pos, ok)
	}
}

func TestMapper_SpeculativeConfirmedInPlace(t *testing.T) {
	im, log := newTestMapper()

	pending := im.InsertSpeculative("deploy it", "")
	if pending.ID >= 0 {
		t.Fatalf("speculative id = %d, want negative", pending.ID)
	}

	im.Apply(Frame{Type: FrameMessage, MessageID: 99, Text: userEchoMarker + "deploy it"})

	if log.Len() != 1 {
		t.Fatalf("confirmation appended instead of merging: length %d", log.Len())
	}
	m := log.At(0)
	if m.ID != 99 {
		t.Fatalf("confirmed id = %d, want 99", m.ID)
	}
	if m.Text != "deploy it" || m.Origin != OriginUser {
		t.Fatalf("confirmation rewrote the entry: %+v", m)
	}
	// The speculative id must not resurrect.
	if _, ok := log.Position(pending.ID); ok {
		t.Fatalf("old speculative id %d still resolves", pending.ID)
	}
	if pos, ok := log.Position(99); !ok || pos != 0 {
		t.Fatalf("Position(99) = %d, %v; want 0, true", pos, ok)
	}
}

func TestMapper_StatusUpdatesProjectionOnly(t *testing.T) {
	im, log := newTestMapper()

	active := true
	im.Apply(Frame{Type: FrameStatus, Mode: "justdoit", Phase: "review", Step: 3, Active: &active})

	if log.Len() != 0 {
		t.Fatalf("status frame mutated the log: length %d", log.Len())
	}
	task := im.Task()
	if task.Mode != "justdoit" || task.Phase != "review" || task.Step != 3 || !task.Active {
		t.Fatalf("task projection = %+v", task)
	}
}

func TestMapper_EditCarriesNewButtons(t *testing.T) {
	im, log := newTestMapper()

	im.Apply(Frame{Type: FrameMessage, MessageID: 5, Text: "pick one"})
	im.Apply(Frame{
		Type: FrameEdit, MessageID: 5, Text: "pick one",
		ReplyMarkup: &ReplyMarkup{InlineKeyboard: [][]Button{{{Label: "Yes", Action: "yes"}}}},
	})

	b := log.At(0).Buttons
	if len(b) != 1 || len(b[0]) != 1 || b[0][0].Action != "yes" {
		t.Fatalf("buttons after edit = %+v", b)
	}
}
