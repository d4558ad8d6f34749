package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	wm "go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/binary/proto"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"
	_ "modernc.org/sqlite"
)

// eventBufCap bounds the provider event channel. The relay drains promptly;
// the buffer only absorbs bursts so whatsmeow's handler goroutine is not
// blocked on every message.
const eventBufCap = 256

// WhatsAppConfig configures the whatsmeow-backed provider.
type WhatsAppConfig struct {
	// StorePath is the path to the whatsmeow SQLite session database.
	StorePath string
	// DeviceName is the display name for the linked device.
	DeviceName string
	// Debug enables whatsmeow's own logging on stdout.
	Debug bool
}

// WhatsApp implements Provider over whatsmeow (multi-device WhatsApp Web).
// Whatsmeow handles pairing, encryption, and media transfer; this type maps
// its event callbacks onto the Provider event stream.
type WhatsApp struct {
	cfg    WhatsAppConfig
	logger *slog.Logger
	db     *sql.DB
	client *wm.Client

	mu      sync.Mutex
	closed  bool
	closeCh chan struct{}
	events  chan Event
}

// NewWhatsApp opens the session store and builds the whatsmeow client.
// The connection is not started until Initialize is called.
func NewWhatsApp(cfg WhatsAppConfig, logger *slog.Logger) (*WhatsApp, error) {
	if cfg.StorePath == "" {
		return nil, fmt.Errorf("whatsapp: store path is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	clientLog := waLog.Noop
	dbLog := waLog.Noop
	if cfg.Debug {
		clientLog = waLog.Stdout("Client", "DEBUG", false)
		dbLog = waLog.Stdout("Database", "INFO", false)
	}

	if cfg.DeviceName != "" {
		// Shown in the phone's linked-devices list.
		store.SetOSInfo(cfg.DeviceName, [3]uint32{1, 0, 0})
	}

	db, err := sql.Open("sqlite", "file:"+cfg.StorePath+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("whatsapp: open session store: %w", err)
	}

	container := sqlstore.NewWithDB(db, "sqlite3", dbLog)
	if err := container.Upgrade(); err != nil {
		db.Close()
		return nil, fmt.Errorf("whatsapp: migrate session store: %w", err)
	}

	device, err := container.GetFirstDevice()
	if errors.Is(err, sql.ErrNoRows) {
		device = container.NewDevice()
	} else if err != nil {
		db.Close()
		return nil, fmt.Errorf("whatsapp: load device: %w", err)
	}

	client := wm.NewClient(device, clientLog)
	// The gateway's relay owns reconnection (with backoff); disable the
	// client's built-in reconnect loop so there is a single driver.
	client.EnableAutoReconnect = false

	p := &WhatsApp{
		cfg:     cfg,
		logger:  logger,
		db:      db,
		client:  client,
		closeCh: make(chan struct{}),
		events:  make(chan Event, eventBufCap),
	}
	client.AddEventHandler(p.handleEvent)
	return p, nil
}

// Events returns the provider event stream.
func (p *WhatsApp) Events() <-chan Event {
	return p.events
}

// Initialize connects (or reconnects) the client. When the stored session is
// not yet paired, a QR channel is opened first and each fresh code is emitted
// as a pairing event.
func (p *WhatsApp) Initialize(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return fmt.Errorf("whatsapp: provider closed")
	}

	if p.client.IsConnected() {
		p.client.Disconnect()
	}

	if p.client.Store.ID == nil {
		// GetQRChannel must be called before Connect on an unpaired store.
		qrChan, err := p.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("whatsapp: open QR channel: %w", err)
		}
		go p.pumpQR(qrChan)
	}

	if err := p.client.Connect(); err != nil {
		return fmt.Errorf("whatsapp: connect: %w", err)
	}
	return nil
}

// pumpQR forwards pairing codes from whatsmeow's QR channel onto the event
// stream. The channel is closed by whatsmeow on success or timeout.
func (p *WhatsApp) pumpQR(ch <-chan wm.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case "code":
			p.emit(Event{Type: EventPairing, Code: item.Code})
		case "success":
			// PairSuccess / Connected arrive via the main event handler.
		default:
			p.logger.Warn("qr channel ended", "event", item.Event)
		}
	}
}

func (p *WhatsApp) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Connected:
		p.emit(Event{Type: EventReady})
	case *events.PairSuccess:
		p.emit(Event{Type: EventAuthenticated})
	case *events.Disconnected:
		p.emit(Event{Type: EventDisconnected, Reason: "connection lost"})
	case *events.LoggedOut:
		p.emit(Event{Type: EventDisconnected, Reason: fmt.Sprintf("logged out: %v", v.Reason)})
	case *events.Message:
		if v.Info.IsFromMe {
			return
		}
		p.emit(Event{
			Type:      EventMessage,
			From:      v.Info.Sender.String(),
			Body:      extractText(v.Message),
			Timestamp: v.Info.Timestamp,
		})
	}
}

// emit blocks until the relay accepts the event, preserving arrival order.
// A closed provider drops the event instead. The event channel is never
// closed: after Close the stream simply goes quiet and the relay stops via
// its own context.
func (p *WhatsApp) emit(ev Event) {
	select {
	case <-p.closeCh:
	case p.events <- ev:
	}
}

// extractText pulls the human-readable body out of a message, falling back
// to media captions.
func extractText(msg *waProto.Message) string {
	if msg == nil {
		return ""
	}
	switch {
	case msg.GetExtendedTextMessage().GetText() != "":
		return msg.GetExtendedTextMessage().GetText()
	case msg.GetConversation() != "":
		return msg.GetConversation()
	case msg.GetImageMessage().GetCaption() != "":
		return msg.GetImageMessage().GetCaption()
	case msg.GetVideoMessage().GetCaption() != "":
		return msg.GetVideoMessage().GetCaption()
	}
	return ""
}

// chatJID derives the provider chat identifier from a phone-number-like
// input: inputs that already carry a server suffix are parsed as-is,
// otherwise the default user server is appended.
func chatJID(number string) (types.JID, error) {
	if strings.Contains(number, "@") {
		jid, err := types.ParseJID(number)
		if err != nil {
			return types.EmptyJID, fmt.Errorf("whatsapp: invalid chat identifier %q: %w", number, err)
		}
		return jid, nil
	}
	return types.NewJID(number, types.DefaultUserServer), nil
}

// SendText delivers a plain text message.
func (p *WhatsApp) SendText(ctx context.Context, number, text string) error {
	jid, err := chatJID(number)
	if err != nil {
		return err
	}
	msg := &waProto.Message{Conversation: proto.String(text)}
	if _, err := p.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	return nil
}

// SendMedia uploads the payload and sends it as the media kind matching its
// MIME type, with an optional caption.
func (p *WhatsApp) SendMedia(ctx context.Context, number string, data []byte, mimeType, caption string) error {
	jid, err := chatJID(number)
	if err != nil {
		return err
	}

	mediaType := wm.MediaDocument
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		mediaType = wm.MediaImage
	case strings.HasPrefix(mimeType, "video/"):
		mediaType = wm.MediaVideo
	case strings.HasPrefix(mimeType, "audio/"):
		mediaType = wm.MediaAudio
	}

	up, err := p.client.Upload(ctx, data, mediaType)
	if err != nil {
		return fmt.Errorf("whatsapp: upload media: %w", err)
	}

	msg := &waProto.Message{}
	switch mediaType {
	case wm.MediaImage:
		msg.ImageMessage = &waProto.ImageMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	case wm.MediaVideo:
		msg.VideoMessage = &waProto.VideoMessage{
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	case wm.MediaAudio:
		msg.AudioMessage = &waProto.AudioMessage{
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	default:
		msg.DocumentMessage = &waProto.DocumentMessage{
			Title:         proto.String("media"),
			Caption:       proto.String(caption),
			Mimetype:      proto.String(mimeType),
			URL:           &up.URL,
			DirectPath:    &up.DirectPath,
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    &up.FileLength,
		}
	}

	if _, err := p.client.SendMessage(ctx, jid, msg); err != nil {
		return fmt.Errorf("whatsapp: send media: %w", err)
	}
	return nil
}

// Close disconnects the client, stops the event stream, and releases the
// session store.
func (p *WhatsApp) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	p.mu.Unlock()

	p.client.Disconnect()
	return p.db.Close()
}
