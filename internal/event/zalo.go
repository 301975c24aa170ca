package event

import (
	"strings"

	"github.com/zulandar/signalbox/internal/models"
)

// ParseZalo parses a Zalo OA webhook delivery. Zalo sends one event per
// request; the result slice has exactly one element on success.
func ParseZalo(body []byte) ([]Event, error) {
	root, err := decode(body)
	if err != nil {
		return nil, err
	}

	name := root.str("event_name")
	msg := root.sub("message")
	ev := Event{
		Platform:  models.PlatformZalo,
		Kind:      zaloKind(name),
		EventID:   root.str("event_id"),
		MessageID: messageID(msg),
		Text:      messageText(msg),
		ImageURL:  firstImage(msg),
		Timestamp: millis(root.str("timestamp")),
		Raw:       body,
	}

	sender := root.sub("sender").str("id")
	recipient := root.sub("recipient").str("id")
	switch ev.Kind {
	case EchoMessage:
		ev.AccountID, ev.PeerID = sender, recipient
	case DeliveryReceipt, ReadReceipt:
		// Receipts acknowledge the OA's own message: the OA is the sender.
		ev.AccountID, ev.PeerID = sender, recipient
		if oa := root.str("oa_id"); oa != "" && oa == recipient {
			ev.AccountID, ev.PeerID = recipient, sender
		}
	default:
		ev.AccountID = root.str("oa_id")
		if ev.AccountID == "" {
			ev.AccountID = recipient
		}
		ev.PeerID = sender
		if ev.PeerID == "" {
			ev.PeerID = root.str("user_id_by_app")
		}
	}
	if ev.AccountID == "" {
		ev.AccountID = root.str("oa_id")
	}

	switch ev.Kind {
	case DeliveryReceipt, ReadReceipt:
		for _, id := range msg.list("msg_ids") {
			if s := scalar(id); s != "" {
				ev.MessageIDs = append(ev.MessageIDs, s)
			}
		}
		if len(ev.MessageIDs) == 0 && ev.MessageID != "" {
			ev.MessageIDs = []string{ev.MessageID}
		}
	case InboundImage:
		if ev.ImageURL == "" {
			ev.Kind = inboundFallback(ev)
		}
	case InboundText:
		if ev.Text == "" && ev.ImageURL != "" {
			ev.Kind = InboundImage
		}
	}
	return []Event{ev}, nil
}

func zaloKind(name string) Kind {
	switch {
	case name == "user_send_text":
		return InboundText
	case name == "user_send_image", name == "user_send_gif":
		return InboundImage
	case strings.HasPrefix(name, "oa_send_"):
		return EchoMessage
	case name == "user_received_message":
		return DeliveryReceipt
	case name == "user_seen_message":
		return ReadReceipt
	default:
		return Unhandled
	}
}

func inboundFallback(ev Event) Kind {
	if ev.Text != "" {
		return InboundText
	}
	return Unhandled
}
