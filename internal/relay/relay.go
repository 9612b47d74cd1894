// Package relay implements the core message-relaying engine: classify an
// inbound stanza, then dispatch it to either the bot-command handler or the
// address-rewriting relay path.
package relay

import (
	"context"
	"strings"
	"time"

	"github.com/axrelay/axrelay/internal/address"
	"github.com/axrelay/axrelay/internal/logger"
	"github.com/axrelay/axrelay/internal/metrics"
)

// Stanza is a minimal message stanza: enough of XMPP's <message/> for
// address rewriting and bot replies. Built and consumed by a Transport;
// relay itself never touches XML.
type Stanza struct {
	Type string // "", "normal", "chat", "groupchat", "error", ...
	To   address.Address
	From address.Address
	Body string
	ID   string
}

// Transport delivers Stanzas in and accepts Stanzas out. The component
// handshake, stream framing, and wire encoding live entirely on the other
// side of this interface (internal/xmppcomponent).
type Transport interface {
	Connect(ctx context.Context) error
	SubscribeMessage(handler func(Stanza))
	Send(ctx context.Context, s Stanza) error
	Run(ctx context.Context) error
}

// aliasService is the subset of alias.Service the engine needs.
type aliasService interface {
	AliasOf(ctx context.Context, addr address.Address) (address.Address, error)
	RealOf(ctx context.Context, aliasAddr address.Address) (address.Address, bool, error)
}

// commandFunc handles one bot command and returns the reply body text.
type commandFunc func(ctx context.Context, msg Stanza) string

// allowedTypes is the set of message types eligible for processing at all.
// Everything else (error stanzas, groupchat, unrecognized types) is
// dropped before classification proceeds any further.
var allowedTypes = map[string]bool{
	"":       true,
	"normal": true,
	"chat":   true,
}

// Engine classifies and dispatches inbound stanzas. Constructor-injected,
// no package-level state: one Engine per running relay instance.
type Engine struct {
	alias     aliasService
	transport Transport
	bot       address.Address // J_bot, bare: matched against inbound msg.To
	botA      address.Address // J_bot_a: bot's own resource, forced onto reply from
	metrics   *metrics.Metrics
	log       *logger.Logger
	commands  map[string]commandFunc
}

// New returns an Engine that relays through alias for address rewriting and
// transport for delivery, answering bot commands addressed to bot.
func New(alias aliasService, transport Transport, bot address.Address, m *metrics.Metrics, log *logger.Logger) *Engine {
	e := &Engine{
		alias:     alias,
		transport: transport,
		bot:       bot,
		botA:      bot.WithResource("a"),
		metrics:   m,
		log:       log,
	}
	e.commands = map[string]commandFunc{
		"/whoami": e.whoami,
	}
	return e
}

// HandleMessage classifies msg and dispatches it to the bot-command or
// relay path. Safe to call concurrently from multiple goroutines.
func (e *Engine) HandleMessage(ctx context.Context, msg Stanza) {
	e.metrics.MessagesTotal.Add(1)

	if !allowedTypes[msg.Type] {
		e.metrics.RecordDrop(dropReasonForType(msg.Type))
		e.log.Debugf("classify", "dropping stanza of type %q from %s", msg.Type, msg.From.Full())
		return
	}

	if msg.To.BareEqual(e.bot) {
		e.botCommand(ctx, msg)
		return
	}
	e.relayMessage(ctx, msg)
}

func dropReasonForType(t string) string {
	if t == "error" {
		return "error_stanza"
	}
	if t == "groupchat" {
		return "groupchat"
	}
	return "unsupported_type"
}

// relayMessage rewrites to/from and forwards msg to its real destination.
// The sender's address is aliased too, so replies thread back through the
// relay (spec.md §4.6).
func (e *Engine) relayMessage(ctx context.Context, msg Stanza) {
	start := time.Now()
	real, ok, err := e.alias.RealOf(ctx, msg.To)
	e.metrics.RecordStorageLatency(time.Since(start))
	if err != nil {
		e.metrics.StorageErrors.Add(1)
		e.log.Errorf("relay_forward", "lookup real address for %s: %v", msg.To.Full(), err)
		e.metrics.RecordDrop("storage_error")
		return
	}
	if !ok {
		e.log.Warnf("relay_forward", "no prior mapping for %s, dropping", msg.To.Full())
		e.metrics.RecordDrop("no_mapping")
		return
	}

	relayFrom, err := e.alias.AliasOf(ctx, msg.From)
	if err != nil {
		e.metrics.StorageErrors.Add(1)
		e.log.Errorf("relay_forward", "alias sender %s: %v", msg.From.Full(), err)
		e.metrics.RecordDrop("storage_error")
		return
	}
	e.metrics.AliasesCreated.Add(1)

	out := msg
	out.To = real
	out.From = relayFrom

	start = time.Now()
	if err := e.transport.Send(ctx, out); err != nil {
		e.log.Errorf("relay_forward", "send to %s: %v", out.To.Full(), err)
		return
	}
	e.metrics.RecordSendLatency(time.Since(start))
	e.metrics.MessagesRelayed.Add(1)
	e.log.Infof("relay_forward", "%s -> %s [aliased]", msg.From.Bare(), out.To.Bare())
}

// botCommand handles a message addressed directly to the bot's own JID.
func (e *Engine) botCommand(ctx context.Context, msg Stanza) {
	e.metrics.BotCommands.Add(1)

	fields := strings.Fields(msg.Body)
	if len(fields) == 0 {
		e.metrics.RecordDrop("unknown_command")
		return
	}

	handler, ok := e.commands[fields[0]]
	if !ok {
		e.metrics.RecordDrop("unknown_command")
		return
	}

	reply := handler(ctx, msg)
	if reply == "" {
		return
	}

	out := Stanza{
		Type: msg.Type,
		To:   msg.From,
		From: e.botA,
		Body: reply,
		ID:   msg.ID,
	}

	if err := e.transport.Send(ctx, out); err != nil {
		e.log.Errorf("bot_command", "send reply to %s: %v", out.To.Full(), err)
	}
}

// whoami answers with the requester's own alias address, so a user can
// learn what identity their counterpart sees them as.
func (e *Engine) whoami(ctx context.Context, msg Stanza) string {
	aliased, err := e.alias.AliasOf(ctx, msg.From)
	if err != nil {
		e.log.Errorf("bot_command", "whoami: alias %s: %v", msg.From.Full(), err)
		return ""
	}
	return aliased.Bare()
}
