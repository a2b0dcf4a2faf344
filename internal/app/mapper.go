package app

import (
	"strings"
	"time"
)

// userEchoMarker prefixes server echoes of messages the client itself
// submitted, so they are distinguishable from entries typed elsewhere.
const userEchoMarker = "\U0001F4F1 "

// TaskStatus is the auxiliary "current task" projection fed by status
// frames. It never touches the message log or the identity index.
type TaskStatus struct {
	Mode   string
	Phase  string
	Step   int
	Active bool
}

// IdentityMapper merges reconciled frames into the message log:
// new messages append, edits mutate in place through the id index, and
// speculative local entries are confirmed when the server echoes them.
//
// Owned by the client's writer goroutine.
type IdentityMapper struct {
	log    *MessageLog
	task   TaskStatus
	logger *Logger

	// persist receives every appended or updated message for
	// best-effort write-through. Never blocks the caller.
	persist func(m Message, updated bool)
}

func NewIdentityMapper(log *MessageLog, logger *Logger, persist func(m Message, updated bool)) *IdentityMapper {
	if persist == nil {
		persist = func(Message, bool) {}
	}
	return &IdentityMapper{log: log, logger: logger, persist: persist}
}

// Task returns the current task projection.
func (im *IdentityMapper) Task() TaskStatus { return im.task }

// Apply merges one delivered frame into the log.
func (im *IdentityMapper) Apply(f Frame) {
	switch f.Type {
	case FrameMessage:
		im.applyMessage(f)
	case FrameEdit:
		im.applyEdit(f)
	case FrameStatus:
		im.applyStatus(f)
	default:
		// Unknown kinds (errors and future types) carry no log state.
		if im.logger != nil {
			im.logger.Debug("unhandled frame kind", map[string]interface{}{"type": f.Type, "seq": f.Seq})
		}
	}
}

// InsertSpeculative appends a locally originated entry awaiting server
// confirmation, under a fresh negative id.
func (im *IdentityMapper) InsertSpeculative(text, session string) Message {
	m := Message{
		ID:        NextLocalID(),
		Text:      text,
		Origin:    OriginUser,
		Session:   session,
		Timestamp: time.Now(),
	}
	im.log.Append(m)
	return m
}

func (im *IdentityMapper) applyMessage(f Frame) {
	// A server echo of an optimistic insert confirms the speculative
	// entry in place instead of appending a duplicate.
	if pos, ok := im.findSpeculative(f); ok {
		m := im.log.At(pos)
		m.ID = f.MessageID
		m.Persisted = true
		if f.Session != "" {
			m.Session = f.Session
		}
		if b := f.Buttons(); b != nil {
			m.Buttons = b
		}
		im.log.Update(pos, m)
		im.persist(m, false)
		return
	}

	// Echoes of user sends from another device carry the marker but
	// have no speculative entry here; they still belong to the user.
	origin := OriginBot
	text := f.Text
	if strings.HasPrefix(text, userEchoMarker) {
		origin = OriginUser
		text = strings.TrimPrefix(text, userEchoMarker)
	}
	m := Message{
		ID:        f.MessageID,
		Text:      text,
		Origin:    origin,
		Session:   f.Session,
		Timestamp: time.Now(),
		Buttons:   f.Buttons(),
		Persisted: true,
	}
	im.log.Append(m)
	im.persist(m, false)
}

func (im *IdentityMapper) applyEdit(f Frame) {
	pos, ok := im.log.Position(f.MessageID)
	if !ok {
		// Edit for an id never seen: append rather than drop, so a
		// revision that outruns its create is not lost.
		m := Message{
			ID:        f.MessageID,
			Text:      f.Text,
			Origin:    OriginBot,
			Session:   f.Session,
			Timestamp: time.Now(),
			Buttons:   f.Buttons(),
			Persisted: true,
		}
		im.log.Append(m)
		im.persist(m, false)
		return
	}

	m := im.log.At(pos)
	m.Text = f.Text
	// An empty session field never erases an existing value.
	if f.Session != "" {
		m.Session = f.Session
	}
	if f.ReplyMarkup != nil {
		m.Buttons = f.Buttons()
	}
	im.log.Update(pos, m)
	im.persist(m, true)
}

func (im *IdentityMapper) applyStatus(f Frame) {
	im.task = TaskStatus{Mode: f.Mode, Phase: f.Phase, Step: f.Step}
	if f.Active != nil {
		im.task.Active = *f.Active
	}
}

// findSpeculative locates the oldest unconfirmed local user entry whose
// text matches the inbound frame. The server echoes user sends back as
// ordinary message frames; text equality is the only correlation the
// wire offers.
func (im *IdentityMapper) findSpeculative(f Frame) (int, bool) {
	if f.MessageID == 0 {
		return 0, false
	}
	text := strings.TrimPrefix(f.Text, userEchoMarker)
	for i := 0; i < im.log.Len(); i++ {
		m := im.log.At(i)
		if m.ID < 0 && m.Origin == OriginUser && m.Text == text {
			return i, true
		}
	}
	return 0, false
}
