package gateway

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gameforge/chatguard/internal/admin"
	"github.com/gameforge/chatguard/internal/engine"
	"github.com/gameforge/chatguard/internal/messaging"
	"github.com/gameforge/chatguard/internal/protocol"
)

// dispatch routes one host message to its handler.
func (g *Gateway) dispatch(c *Conn, data []byte) {
	ctx := context.Background()

	msgType, msg, err := protocol.ParseHostMessage(data)
	if err != nil {
		log.Printf("[gateway] bad message conn=%s: %v", c.ID, err)
		g.send(c, protocol.TypeError, protocol.ErrorMsg{Code: "bad_message", Message: err.Error()})
		return
	}

	switch m := msg.(type) {
	case protocol.JoinMsg:
		p := g.roster.Observe(m.Player)
		g.engine.OnJoin(p.Slot)
		log.Printf("[gateway] join slot=%d name=%s", p.Slot, p.Name)

	case protocol.LeaveMsg:
		g.engine.OnLeave(m.Slot)
		g.roster.Remove(m.Slot)
		log.Printf("[gateway] leave slot=%d", m.Slot)

	case protocol.ChatEventMsg:
		p := g.roster.Observe(m.Player)
		res, err := g.engine.HandleChat(ctx, p, m.Text)
		if err != nil {
			log.Printf("[gateway] chat slot=%d: %v", p.Slot, err)
			return
		}
		g.deliver(ctx, c, p, res)

	case protocol.CommandEventMsg:
		p := g.roster.Observe(m.Player)
		res, err := g.engine.HandleCommand(ctx, p, m.Name, m.Arg)
		if err != nil {
			log.Printf("[gateway] command slot=%d: %v", p.Slot, err)
			return
		}
		// A warned or kicked command must not execute on the host.
		if res.Disposition == engine.Warned || res.Disposition == engine.Kicked {
			g.send(c, protocol.TypeSuppress, protocol.SuppressMsg{Slot: p.Slot})
		}
		g.deliver(ctx, c, p, res)

	case protocol.EmoteEventMsg:
		p := g.roster.Observe(m.Player)
		res, err := g.engine.Emote(ctx, p, m.Text)
		if err != nil {
			g.send(c, protocol.TypeDirect, protocol.DirectMsg{Slot: p.Slot, Message: usageFor(err)})
			return
		}
		g.deliver(ctx, c, p, res)

	case protocol.WhisperEventMsg:
		p := g.roster.Observe(m.Player)
		target := g.roster.Observe(m.Target)
		res, err := g.engine.Whisper(ctx, p, target, m.Text)
		if err != nil {
			g.send(c, protocol.TypeDirect, protocol.DirectMsg{Slot: p.Slot, Message: usageFor(err)})
			return
		}
		g.deliver(ctx, c, p, res)

	case protocol.ReplyEventMsg:
		p := g.roster.Observe(m.Player)
		res, err := g.engine.Reply(ctx, p, m.Text)
		if err != nil {
			g.send(c, protocol.TypeDirect, protocol.DirectMsg{Slot: p.Slot, Message: usageFor(err)})
			return
		}
		g.deliver(ctx, c, p, res)

	case protocol.SetCosmeticMsg:
		p := g.roster.Observe(m.Player)
		var err error
		switch m.Field {
		case "color":
			err = g.admin.SetColor(ctx, p, m.Target, m.Value)
		case "prefix":
			err = g.admin.SetPrefix(ctx, p, m.Target, m.Value)
		case "suffix":
			err = g.admin.SetSuffix(ctx, p, m.Target, m.Value)
		default:
			err = fmt.Errorf("%w: unknown cosmetic field %q", admin.ErrInvalidInput, m.Field)
		}
		g.adminResult(c, m.ID, nil, err)

	case protocol.RemoveCosmeticMsg:
		p := g.roster.Observe(m.Player)
		g.adminResult(c, m.ID, nil, g.admin.Remove(ctx, p, m.Target, m.Field))

	case protocol.ReadCosmeticsMsg:
		p := g.roster.Observe(m.Player)
		lines, err := g.admin.Read(ctx, p, m.Target)
		g.adminResult(c, m.ID, lines, err)

	case protocol.PermissionUpdateMsg:
		p := g.roster.Observe(m.Player)
		var err error
		switch m.Action {
		case "grant":
			err = g.admin.Grant(ctx, p, m.Target, m.Permission)
		case "deny":
			err = g.admin.Deny(ctx, p, m.Target, m.Permission)
		case "revoke":
			err = g.admin.Revoke(ctx, p, m.Target, m.Permission)
		default:
			err = fmt.Errorf("%w: unknown permission action %q", admin.ErrInvalidInput, m.Action)
		}
		g.adminResult(c, m.ID, nil, err)

	case protocol.PermissionListMsg:
		p := g.roster.Observe(m.Player)
		lines, err := g.admin.ListPermissions(ctx, p, m.Target)
		g.adminResult(c, m.ID, lines, err)

	case protocol.AccountDeleteMsg:
		if err := g.admin.DeleteAccount(ctx, m.UserID); err != nil {
			log.Printf("[gateway] account delete %d: %v", m.UserID, err)
		}

	case protocol.PingMsg:
		g.send(c, protocol.TypePong, protocol.PongMsg{})

	default:
		log.Printf("[gateway] unhandled message type %q conn=%s", msgType, c.ID)
	}
}

// deliver maps an engine result onto outbound host messages and the NATS
// moderation subjects.
func (g *Gateway) deliver(ctx context.Context, c *Conn, p engine.Principal, res engine.Result) {
	switch res.Disposition {
	case engine.Kicked:
		g.send(c, protocol.TypeKick, protocol.KickMsg{Slot: p.Slot, Reason: res.KickReason})
		g.publishModeration(p, "kick", res.KickReason)

		muted, duration, err := g.kicks.RecordKick(ctx, p.Key(), res.KickReason)
		if err != nil {
			log.Printf("[gateway] record kick slot=%d: %v", p.Slot, err)
		} else if muted {
			log.Printf("[gateway] auto-muted %s for %v after repeat kicks", p.Key(), duration)
			g.publishModeration(p, "mute", res.KickReason)
		}

	case engine.Warned:
		g.send(c, protocol.TypeWarn, protocol.WarnMsg{Slot: p.Slot, Message: res.Notice})
		g.publishModeration(p, "warn", res.Notice)

	case engine.Suppressed:
		g.send(c, protocol.TypeSuppress, protocol.SuppressMsg{Slot: p.Slot})
		if res.Notice != "" {
			g.send(c, protocol.TypeDirect, protocol.DirectMsg{Slot: p.Slot, Message: res.Notice})
		}

	case engine.Delivered:
		// Broadcasts already went out through the sink; only per-slot
		// deliveries remain.
		for _, d := range res.Directs {
			g.send(c, protocol.TypeDirect, protocol.DirectMsg{
				Slot:    d.TargetSlot,
				Message: d.Message,
				Color:   d.Color.String(),
			})
		}
	}
}

// publishModeration fans a warn/kick/mute outcome out on NATS.
func (g *Gateway) publishModeration(p engine.Principal, action, reason string) {
	if g.events == nil {
		return
	}
	ev := messaging.ModerationEvent{
		Slot:   p.Slot,
		Name:   p.Name,
		Action: action,
		Reason: reason,
		Ts:     time.Now().Unix(),
	}
	if p.Authenticated {
		ev.UserID = p.UserID
	}
	if err := g.events.PublishModeration(ev); err != nil {
		log.Printf("[gateway] publish %s: %v", action, err)
	}
}

// adminResult answers an admin request, correlated by id.
func (g *Gateway) adminResult(c *Conn, id string, lines []string, err error) {
	res := protocol.AdminResultMsg{ID: id, OK: err == nil, Lines: lines}
	if err != nil {
		res.Error = err.Error()
	}
	g.send(c, protocol.TypeAdminResult, res)
}

// usageFor turns a chat-command error into the line shown to the sender.
func usageFor(err error) string {
	switch err {
	case engine.ErrEmptyMessage:
		return "Invalid syntax: the message cannot be empty."
	case engine.ErrNoReplyTarget:
		return "You haven't messaged anyone yet."
	default:
		return "Unable to send your message."
	}
}
