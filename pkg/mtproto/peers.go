package mtproto

import (
	"context"
	"fmt"
	"sync"

	"github.com/gotd/td/tg"
	"github.com/igolaizola/sigcopy/pkg/forward"
)

// peers caches input peers by marked id. Sending needs the access hash, which
// is only known for peers seen in dialogs or updates.
type peers struct {
	lock sync.RWMutex
	byID map[int64]tg.InputPeerClass
}

func newPeers() *peers {
	return &peers{byID: make(map[int64]tg.InputPeerClass)}
}

func (p *peers) add(id int64, peer tg.InputPeerClass) {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.byID[id] = peer
}

func (p *peers) addEntities(e tg.Entities) {
	for _, u := range e.Users {
		p.addUser(u)
	}
	for _, c := range e.Chats {
		p.add(forward.ChatID(c.ID), &tg.InputPeerChat{ChatID: c.ID})
	}
	for _, c := range e.Channels {
		p.add(forward.ChannelID(c.ID), &tg.InputPeerChannel{ChannelID: c.ID, AccessHash: c.AccessHash})
	}
}

func (p *peers) addUser(u *tg.User) {
	p.add(u.ID, &tg.InputPeerUser{UserID: u.ID, AccessHash: u.AccessHash})
}

func (p *peers) addChats(chats []tg.ChatClass) {
	for _, c := range chats {
		switch v := c.(type) {
		case *tg.Chat:
			p.add(forward.ChatID(v.ID), &tg.InputPeerChat{ChatID: v.ID})
		case *tg.Channel:
			p.add(forward.ChannelID(v.ID), &tg.InputPeerChannel{ChannelID: v.ID, AccessHash: v.AccessHash})
		}
	}
}

func (p *peers) addUsers(users []tg.UserClass) {
	for _, u := range users {
		if v, ok := u.(*tg.User); ok {
			p.addUser(v)
		}
	}
}

// lookup accepts marked ids and plain ids.
func (p *peers) lookup(id int64) (tg.InputPeerClass, bool) {
	p.lock.RLock()
	defer p.lock.RUnlock()
	if peer, ok := p.byID[id]; ok {
		return peer, true
	}
	if id <= 0 {
		return nil, false
	}
	for _, marked := range []int64{forward.ChannelID(id), forward.ChatID(id)} {
		if peer, ok := p.byID[marked]; ok {
			return peer, true
		}
	}
	return nil, false
}

const (
	dialogsPageSize = 100
	maxDialogPages  = 50
)

// warm loads the peers of the account dialogs, newest first. Bots can't list
// dialogs.
func (p *peers) warm(ctx context.Context, api *tg.Client) error {
	req := &tg.MessagesGetDialogsRequest{
		OffsetPeer: &tg.InputPeerEmpty{},
		Limit:      dialogsPageSize,
	}
	for page := 0; page < maxDialogPages; page++ {
		res, err := api.MessagesGetDialogs(ctx, req)
		if err != nil {
			return fmt.Errorf("mtproto: couldn't get dialogs: %w", err)
		}
		v, ok := res.(*tg.MessagesDialogsSlice)
		if !ok {
			// The full list fits in a single response
			if all, ok := res.(*tg.MessagesDialogs); ok {
				p.addChats(all.Chats)
				p.addUsers(all.Users)
			}
			return nil
		}
		p.addChats(v.Chats)
		p.addUsers(v.Users)
		if len(v.Dialogs) < dialogsPageSize {
			return nil
		}
		next, ok := p.nextDialogs(v.Dialogs, v.Messages)
		if !ok {
			return nil
		}
		req = next
	}
	return nil
}

// nextDialogs builds the request of the page after the last dialog.
func (p *peers) nextDialogs(dialogs []tg.DialogClass, messages []tg.MessageClass) (*tg.MessagesGetDialogsRequest, bool) {
	last, ok := dialogs[len(dialogs)-1].(*tg.Dialog)
	if !ok {
		return nil, false
	}
	id, err := markedID(last.Peer)
	if err != nil {
		return nil, false
	}
	peer, ok := p.lookup(id)
	if !ok {
		return nil, false
	}
	req := &tg.MessagesGetDialogsRequest{
		OffsetID:   last.TopMessage,
		OffsetPeer: peer,
		Limit:      dialogsPageSize,
	}
	// Message ids are only unique per peer
	top := func(msgID int, peerID tg.PeerClass) bool {
		mid, err := markedID(peerID)
		return err == nil && msgID == last.TopMessage && mid == id
	}
	for _, m := range messages {
		switch v := m.(type) {
		case *tg.Message:
			if top(v.ID, v.PeerID) {
				req.OffsetDate = v.Date
			}
		case *tg.MessageService:
			if top(v.ID, v.PeerID) {
				req.OffsetDate = v.Date
			}
		}
	}
	return req, true
}

func (p *peers) resolve(ctx context.Context, api *tg.Client, id int64) (tg.InputPeerClass, error) {
	if peer, ok := p.lookup(id); ok {
		return peer, nil
	}

	// Channels the account is a member of can be fetched without access hash
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: forward.PlainID(id)},
	})
	if err != nil {
		return nil, fmt.Errorf("mtproto: couldn't resolve peer %d: %w", id, err)
	}
	switch v := res.(type) {
	case *tg.MessagesChats:
		p.addChats(v.Chats)
	case *tg.MessagesChatsSlice:
		p.addChats(v.Chats)
	}
	if peer, ok := p.lookup(id); ok {
		return peer, nil
	}
	return nil, fmt.Errorf("mtproto: peer %d not found", id)
}

func markedID(p tg.PeerClass) (int64, error) {
	switch v := p.(type) {
	case *tg.PeerUser:
		return v.UserID, nil
	case *tg.PeerChannel:
		return forward.ChannelID(v.ChannelID), nil
	case *tg.PeerChat:
		return forward.ChatID(v.ChatID), nil
	}
	return 0, fmt.Errorf("invalid peer: %T", p)
}
