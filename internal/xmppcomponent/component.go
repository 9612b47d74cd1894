// Package xmppcomponent is a minimal XEP-0114 "jabber:component:accept"
// client: stream open, SHA-1 handshake digest, message stanza read/write.
// It is the relay's only collaborator outside the engineering surface this
// module specifies — it exists to satisfy relay.Transport, nothing more.
package xmppcomponent

import (
	"context"
	"crypto/sha1" //nolint:gosec // mandated by XEP-0114, not used for anything security-sensitive here
	"encoding/xml"
	"fmt"
	"net"
	"sync"

	"golang.org/x/net/proxy"

	"github.com/axrelay/axrelay/internal/address"
	"github.com/axrelay/axrelay/internal/logger"
	"github.com/axrelay/axrelay/internal/relay"
)

// Config configures the connection to the component's router.
type Config struct {
	Server   string // host:port the XMPP server listens on for components
	JID      string // this component's own JID
	Password string // shared secret for the handshake digest

	// ProxyURL, if set, is used to dial Server through a forward proxy via
	// golang.org/x/net/proxy rather than connecting directly.
	ProxyURL string
}

// Component implements relay.Transport over a single TCP connection using
// the jabber:component:accept protocol.
type Component struct {
	cfg Config
	log *logger.Logger

	conn    net.Conn
	decoder *xml.Decoder

	sendMu sync.Mutex

	handlersMu sync.Mutex
	handlers   []func(relay.Stanza)
}

// New returns a Component for the given configuration.
func New(cfg Config, log *logger.Logger) *Component {
	return &Component{cfg: cfg, log: log}
}

// Connect dials the server, opens the component stream, and completes the
// handshake. It must be called once before Run.
func (c *Component) Connect(ctx context.Context) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return fmt.Errorf("xmppcomponent: dial: %w", err)
	}
	c.conn = conn
	c.decoder = xml.NewDecoder(conn)

	if _, err := fmt.Fprintf(conn, "<?xml version='1.0'?>"+
		"<stream:stream xmlns='jabber:component:accept' xmlns:stream='http://etherx.jabber.org/streams' to='%s'>",
		xmlEscape(c.cfg.JID)); err != nil {
		return fmt.Errorf("xmppcomponent: open stream: %w", err)
	}

	streamID, err := c.readStreamID()
	if err != nil {
		return fmt.Errorf("xmppcomponent: read stream header: %w", err)
	}

	digest := handshakeDigest(streamID, c.cfg.Password)
	if _, err := fmt.Fprintf(conn, "<handshake>%s</handshake>", digest); err != nil {
		return fmt.Errorf("xmppcomponent: send handshake: %w", err)
	}

	if err := c.readHandshakeAck(); err != nil {
		return fmt.Errorf("xmppcomponent: handshake: %w", err)
	}

	c.log.Info("connect", "component stream established to "+c.cfg.Server)
	return nil
}

func (c *Component) dial(ctx context.Context) (net.Conn, error) {
	if c.cfg.ProxyURL == "" {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", c.cfg.Server)
	}
	dialer, err := proxy.SOCKS5("tcp", c.cfg.ProxyURL, nil, proxy.Direct)
	if err != nil {
		return nil, err
	}
	return dialer.Dial("tcp", c.cfg.Server)
}

// handshakeDigest computes the XEP-0114 handshake: SHA-1(streamID + password),
// lowercase hex.
func handshakeDigest(streamID, password string) string {
	h := sha1.New() //nolint:gosec // mandated by XEP-0114
	h.Write([]byte(streamID))
	h.Write([]byte(password))
	return fmt.Sprintf("%x", h.Sum(nil))
}

// readStreamID scans forward to the opening <stream:stream> element and
// returns its "id" attribute.
func (c *Component) readStreamID() (string, error) {
	for {
		tok, err := c.decoder.Token()
		if err != nil {
			return "", err
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "stream" {
			continue
		}
		for _, attr := range start.Attr {
			if attr.Name.Local == "id" {
				return attr.Value, nil
			}
		}
		return "", fmt.Errorf("stream element missing id attribute")
	}
}

// readHandshakeAck blocks until the server sends back <handshake/>.
func (c *Component) readHandshakeAck() error {
	for {
		tok, err := c.decoder.Token()
		if err != nil {
			return err
		}
		if start, ok := tok.(xml.StartElement); ok && start.Name.Local == "handshake" {
			return nil
		}
	}
}

// SubscribeMessage registers handler to be invoked for every inbound
// message stanza. May be called multiple times; all handlers fire.
func (c *Component) SubscribeMessage(handler func(relay.Stanza)) {
	c.handlersMu.Lock()
	c.handlers = append(c.handlers, handler)
	c.handlersMu.Unlock()
}

// Run reads stanzas from the stream until ctx is canceled or the
// connection is closed.
func (c *Component) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		<-ctx.Done()
		c.conn.Close() //nolint:errcheck
		close(done)
	}()

	for {
		var wire wireMessage
		if err := c.decoder.Decode(&wire); err != nil {
			select {
			case <-done:
				return ctx.Err()
			default:
				return fmt.Errorf("xmppcomponent: decode: %w", err)
			}
		}
		stanza := wire.toStanza()
		c.handlersMu.Lock()
		handlers := append([]func(relay.Stanza){}, c.handlers...)
		c.handlersMu.Unlock()
		for _, h := range handlers {
			h(stanza)
		}
	}
}

// Send serializes s as a <message/> stanza and writes it to the stream.
// Writes are serialized through sendMu so the wire stays a single ordered
// channel regardless of how many goroutines call Send concurrently.
func (c *Component) Send(ctx context.Context, s relay.Stanza) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	wire := fromStanza(s)
	enc := xml.NewEncoder(c.conn)
	return enc.Encode(wire)
}

// wireMessage is the XML shape of a <message/> stanza over the component
// stream: enough of XEP-0114/RFC 6120 for address rewriting and bodies.
type wireMessage struct {
	XMLName xml.Name `xml:"jabber:component:accept message"`
	To      string   `xml:"to,attr"`
	From    string   `xml:"from,attr"`
	Type    string   `xml:"type,attr,omitempty"`
	ID      string   `xml:"id,attr,omitempty"`
	Body    string   `xml:"body,omitempty"`
}

func (w wireMessage) toStanza() relay.Stanza {
	return relay.Stanza{
		Type: w.Type,
		To:   address.ParseAddress(w.To),
		From: address.ParseAddress(w.From),
		Body: w.Body,
		ID:   w.ID,
	}
}

func fromStanza(s relay.Stanza) wireMessage {
	return wireMessage{
		To:   s.To.Full(),
		From: s.From.Full(),
		Type: s.Type,
		ID:   s.ID,
		Body: s.Body,
	}
}

func xmlEscape(s string) string {
	var buf []byte
	for _, r := range s {
		switch r {
		case '&':
			buf = append(buf, "&amp;"...)
		case '\'':
			buf = append(buf, "&apos;"...)
		case '"':
			buf = append(buf, "&quot;"...)
		case '<':
			buf = append(buf, "&lt;"...)
		case '>':
			buf = append(buf, "&gt;"...)
		default:
			buf = append(buf, string(r)...)
		}
	}
	return string(buf)
}
