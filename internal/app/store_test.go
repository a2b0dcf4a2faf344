package app

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func storedMessage(id int64, text string, at time.Time) Message {
	return Message{ID: id, Text: text, Origin: OriginBot, Timestamp: at}
}

func TestSQLiteStore_PageIsNewestFirst(t *testing.T) {
	st := newTestStore(t)
	base := time.Now()

	for i, text := range []string{"first", "second", "third"} {
		if err := st.Insert(storedMessage(int64(i+1), text, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	page, err := st.GetPage(2, 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if len(page) != 2 || page[0].Text != "third" || page[1].Text != "second" {
		t.Fatalf("page = %+v, want [third second]", page)
	}

	rest, err := st.GetPage(2, 2)
	if err != nil {
		t.Fatalf("GetPage offset: %v", err)
	}
	if len(rest) != 1 || rest[0].Text != "first" {
		t.Fatalf("second page = %+v, want [first]", rest)
	}
}

func TestSQLiteStore_UpdateByMessageID(t *testing.T) {
	st := newTestStore(t)
	now := time.Now()

	if err := st.Insert(storedMessage(10, "draft", now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.UpdateByMessageID(10, "final", "work", `[[{"text":"Go","callback_data":"go"}]]`); err != nil {
		t.Fatalf("UpdateByMessageID: %v", err)
	}

	page, err := st.GetPage(10, 0)
	if err != nil {
		t.Fatalf("GetPage: %v", err)
	}
	if len(page) != 1 {
		t.Fatalf("page length = %d, want 1", len(page))
	}
	m := page[0]
	if m.Text != "final" || m.Session != "work" {
		t.Fatalf("updated row = %+v", m)
	}
	if len(m.Buttons) != 1 || m.Buttons[0][0].Action != "go" {
		t.Fatalf("buttons = %+v", m.Buttons)
	}
}

func TestSQLiteStore_UpdateKeepsSessionWhenBlank(t *testing.T) {
	st := newTestStore(t)

	m := storedMessage(10, "draft", time.Now())
	m.Session = "work"
	if err := st.Insert(m); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.UpdateByMessageID(10, "final", "", ""); err != nil {
		t.Fatalf("UpdateByMessageID: %v", err)
	}

	page, _ := st.GetPage(1, 0)
	if page[0].Session != "work" {
		t.Fatalf("session = %q, want %q", page[0].Session, "work")
	}
}

func TestSQLiteStore_UpdateZeroIDRejected(t *testing.T) {
	st := newTestStore(t)
	if err := st.UpdateByMessageID(0, "x", "", ""); err == nil {
		t.Fatal("updating id 0 should fail; it has no stable identity")
	}
}

func TestSQLiteStore_SearchAndCounts(t *testing.T) {
	st := newTestStore(t)
	base := time.Now()

	texts := []string{"deploy the api", "review notes", "api timeout fixed"}
	for i, text := range texts {
		if err := st.Insert(storedMessage(int64(i+1), text, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}

	hits, err := st.Search("api", 10, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].Text != "api timeout fixed" || hits[1].Text != "deploy the api" {
		t.Fatalf("search hits = %+v", hits)
	}

	n, err := st.SearchCount("api")
	if err != nil || n != 2 {
		t.Fatalf("SearchCount = %d, %v; want 2, nil", n, err)
	}
	total, err := st.Count()
	if err != nil || total != 3 {
		t.Fatalf("Count = %d, %v; want 3, nil", total, err)
	}
}

func TestSQLiteStore_DeleteAll(t *testing.T) {
	st := newTestStore(t)

	if err := st.Insert(storedMessage(1, "x", time.Now())); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := st.DeleteAll(); err != nil {
		t.Fatalf("DeleteAll: %v", err)
	}
	n, err := st.Count()
	if err != nil || n != 0 {
		t.Fatalf("Count after DeleteAll = %d, %v; want 0, nil", n, err)
	}
}
