package sync

import (
	"github.com/matheus3301/chatsync/internal/cache"
	"github.com/matheus3301/chatsync/internal/protocol"
)

// localTypingStarted sends is_typing=true once per burst of keystrokes and
// is_typing=false after TypingTimeout without another one.
func (e *Engine) localTypingStarted(convID string) {
	if t, ok := e.localTyping[convID]; ok {
		t.Stop()
	} else {
		e.outbox.SendTyping(convID, true)
	}
	e.localTyping[convID] = e.timers.AfterFunc(e.cfg.TypingTimeout, func() {
		delete(e.localTyping, convID)
		e.outbox.SendTyping(convID, false)
	})
}

func (e *Engine) localTypingStopped(convID string) {
	t, ok := e.localTyping[convID]
	if !ok {
		return
	}
	t.Stop()
	delete(e.localTyping, convID)
	e.outbox.SendTyping(convID, false)
}

func (e *Engine) stopLocalTyping() {
	for id, t := range e.localTyping {
		t.Stop()
		delete(e.localTyping, id)
	}
}

func (e *Engine) applyTyping(ev *protocol.TypingIndicator) {
	if ev.UserID == "" || ev.UserID == e.LocalUserID() {
		return
	}
	convID := ev.ConversationID
	e.stopRemoteTypingTimer(convID)

	if !ev.IsTyping {
		if e.cache.ClearTyping(convID, ev.UserID) {
			e.publish(EventTypingChanged, TypingEvent{ConversationID: convID, UserID: ev.UserID})
		}
		return
	}

	e.cache.SetTyping(convID, cache.TypingState{IsTyping: true, UserID: ev.UserID, Since: e.clock.Now()})
	user := ev.UserID
	e.remoteTyping[convID] = e.timers.AfterFunc(e.cfg.RemoteTypingTimeout, func() {
		delete(e.remoteTyping, convID)
		if e.cache.ClearTyping(convID, user) {
			e.publish(EventTypingChanged, TypingEvent{ConversationID: convID, UserID: user})
		}
	})
	e.publish(EventTypingChanged, TypingEvent{ConversationID: convID, UserID: user, IsTyping: true})
}

func (e *Engine) stopRemoteTypingTimer(convID string) {
	if t, ok := e.remoteTyping[convID]; ok {
		t.Stop()
		delete(e.remoteTyping, convID)
	}
}

func (e *Engine) clearRemoteTyping() {
	for convID, t := range e.remoteTyping {
		t.Stop()
		delete(e.remoteTyping, convID)
		state := e.cache.Typing(convID)
		if e.cache.ClearTyping(convID, "") {
			e.publish(EventTypingChanged, TypingEvent{ConversationID: convID, UserID: state.UserID})
		}
	}
}
