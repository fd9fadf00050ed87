package daemon

import (
	"go.uber.org/zap"

	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/store"
	intsync "github.com/matheus3301/chatsync/internal/sync"
)

// persister writes server-confirmed cache changes through to the store as
// they happen, so a crash loses at most the events still queued on the bus.
type persister struct {
	db     *store.DB
	engine *intsync.Engine
	logger *zap.Logger
	unsubs []func()
}

func newPersister(db *store.DB, engine *intsync.Engine, logger *zap.Logger) *persister {
	return &persister{db: db, engine: engine, logger: logger.Named("persist")}
}

// Start subscribes to the message and conversation namespaces.
func (p *persister) Start() {
	p.unsubs = append(p.unsubs,
		p.engine.Subscribe("message.", p.handle),
		p.engine.Subscribe("conversation.", p.handle),
		p.engine.Subscribe(intsync.EventPresenceUpdated, p.handle),
	)
}

// Stop unsubscribes and waits for in-flight writes.
func (p *persister) Stop() {
	for _, unsub := range p.unsubs {
		unsub()
	}
	p.unsubs = nil
}

func (p *persister) handle(evt bus.Event) {
	var err error
	switch v := evt.Payload.(type) {
	case intsync.MessageEvent:
		// Pending sends are skipped by the store until confirmed.
		m := v.Message
		if err = p.db.UpsertMessage(&m); err == nil {
			err = p.saveConversation(m.ConversationID)
		}
	case intsync.SendEvent:
		if v.Err == nil {
			err = p.saveMessage(v.ConversationID, v.ServerMessageID)
		}
	case intsync.ReadEvent:
		err = p.saveMessage(v.ConversationID, v.MessageID)
	case intsync.ConversationEvent:
		err = p.saveConversation(v.ConversationID)
	case intsync.PresenceEvent:
		for _, id := range v.Conversations {
			if err = p.saveConversation(id); err != nil {
				break
			}
		}
	}
	if err != nil {
		p.logger.Warn("failed to persist event", zap.String("kind", evt.Kind), zap.Error(err))
	}
}

func (p *persister) saveMessage(convID, msgID string) error {
	for _, m := range p.engine.Messages(convID) {
		if m.ID == msgID && !m.Optimistic {
			if err := p.db.UpsertMessage(&m); err != nil {
				return err
			}
			return p.saveConversation(convID)
		}
	}
	return nil
}

func (p *persister) saveConversation(id string) error {
	c, ok := p.engine.Conversation(id)
	if !ok {
		return nil
	}
	return p.db.UpsertConversation(&c)
}
