package event

import (
	"github.com/zulandar/signalbox/internal/models"
)

// ParseMessenger parses a Messenger webhook delivery. A delivery batches
// entries, each with one or more messaging items; one Event is returned per
// item in order.
func ParseMessenger(body []byte) ([]Event, error) {
	root, err := decode(body)
	if err != nil {
		return nil, err
	}

	var events []Event
	for _, e := range root.list("entry") {
		entry := asObj(e)
		pageID := entry.str("id")
		for _, item := range entry.list("messaging") {
			events = append(events, parseMessaging(pageID, asObj(item)))
		}
	}
	return events, nil
}

func parseMessaging(pageID string, m obj) Event {
	ev := Event{
		Platform:  models.PlatformMessenger,
		Kind:      Unhandled,
		Timestamp: millis(m.str("timestamp")),
		Raw:       raw(map[string]any(m)),
	}
	sender := m.sub("sender").str("id")
	recipient := m.sub("recipient").str("id")

	switch {
	case m.sub("message") != nil:
		msg := m.sub("message")
		ev.MessageID = messageID(msg)
		ev.Text = messageText(msg)
		ev.ImageURL = firstImage(msg)
		if msg.bool("is_echo") {
			ev.Kind = EchoMessage
			ev.AccountID, ev.PeerID = sender, recipient
			break
		}
		ev.AccountID, ev.PeerID = recipient, sender
		switch {
		case ev.ImageURL != "":
			ev.Kind = InboundImage
		case ev.Text != "":
			ev.Kind = InboundText
		}
	case m.sub("delivery") != nil:
		d := m.sub("delivery")
		ev.Kind = DeliveryReceipt
		ev.AccountID, ev.PeerID = recipient, sender
		for _, id := range d.list("mids") {
			if s := scalar(id); s != "" {
				ev.MessageIDs = append(ev.MessageIDs, s)
			}
		}
		ev.Watermark = millis(d.str("watermark"))
	case m.sub("read") != nil:
		ev.Kind = ReadReceipt
		ev.AccountID, ev.PeerID = recipient, sender
		ev.Watermark = millis(m.sub("read").str("watermark"))
	default:
		ev.AccountID, ev.PeerID = recipient, sender
	}

	if ev.AccountID == "" {
		ev.AccountID = pageID
	}
	return ev
}
