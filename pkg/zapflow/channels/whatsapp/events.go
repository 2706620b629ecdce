// Package whatsapp – events.go processes incoming whatsmeow events and
// converts them into the unified channels.IncomingMessage type.
package whatsapp

import (
	"strings"

	"github.com/jholhewres/zapflow/pkg/zapflow/channels"

	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types/events"
)

// handleEvent is the main whatsmeow event dispatcher.
func (w *WhatsApp) handleEvent(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)

	case *events.Connected:
		w.connected.Store(true)
		w.reconnectAttempts.Store(0)
		w.logger.Info("whatsapp: connected", "jid", w.clientJID())

	case *events.Disconnected:
		wasConnected := w.connected.Load()
		w.connected.Store(false)
		w.logger.Warn("whatsapp: disconnected", "was_connected", wasConnected)
		if wasConnected && w.ctx.Err() == nil {
			go w.attemptReconnect()
		}

	case *events.StreamReplaced:
		w.connected.Store(false)
		w.logger.Error("whatsapp: stream replaced - another device connected")

	case *events.LoggedOut:
		w.connected.Store(false)
		w.logger.Error("whatsapp: logged out, new QR scan required", "reason", evt.Reason)
	}
}

// handleMessageEvt builds an IncomingMessage from a WhatsApp message event.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	if evt.Info.Chat.Server == "broadcast" {
		return
	}

	isGroup := evt.Info.IsGroup
	if isGroup && !w.cfg.RespondToGroups {
		return
	}
	if !isGroup && !w.cfg.RespondToDMs {
		return
	}

	// WhatsApp may deliver LID (Linked Identity) JIDs instead of phone
	// numbers. Resolve to the phone JID so identity stays stable.
	senderJID := evt.Info.Sender
	if senderJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, senderJID); err == nil && !altJID.IsEmpty() {
			senderJID = altJID
		}
	}

	chatJID := evt.Info.Chat
	if chatJID.Server == "lid" && w.client != nil && w.client.Store != nil {
		if altJID, err := w.client.Store.GetAltJID(w.ctx, chatJID); err == nil && !altJID.IsEmpty() {
			chatJID = altJID
		}
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		FromSelf:  evt.Info.IsFromMe,
		ChatID:    chatJID.String(),
		Phone:     phoneFromJID(senderJID),
		PushName:  evt.Info.PushName,
		IsGroup:   isGroup,
		Timestamp: evt.Info.Timestamp,
	}

	extractMessageContent(evt.Message, msg)
	w.emitMessage(msg)
}

// extractMessageContent extracts text/media content from a WhatsApp message.
func extractMessageContent(waMsg *waProto.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		msg.Type = channels.MessageOther
		return
	}

	// Plain conversation text.
	if waMsg.Conversation != nil {
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
		return
	}

	// Extended text (quoted replies, formatting, link previews).
	if ext := waMsg.ExtendedTextMessage; ext != nil {
		msg.Type = channels.MessageText
		msg.Content = ext.GetText()
		return
	}

	// Image message.
	if img := waMsg.ImageMessage; img != nil {
		msg.Type = channels.MessageImage
		msg.Content = img.GetCaption()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageImage,
			MimeType:      img.GetMimetype(),
			FileSize:      img.GetFileLength(),
			Caption:       img.GetCaption(),
			URL:           img.GetURL(),
			DirectPath:    img.GetDirectPath(),
			MediaKey:      img.GetMediaKey(),
			FileSHA256:    img.GetFileSHA256(),
			FileEncSHA256: img.GetFileEncSHA256(),
		}
		return
	}

	// Audio message (voice note or audio file).
	if audio := waMsg.AudioMessage; audio != nil {
		msg.Type = channels.MessageAudio
		msg.IsVoiceNote = audio.GetPTT()
		msg.Media = &channels.MediaInfo{
			Type:          channels.MessageAudio,
			MimeType:      audio.GetMimetype(),
			FileSize:      audio.GetFileLength(),
			Duration:      audio.GetSeconds(),
			URL:           audio.GetURL(),
			DirectPath:    audio.GetDirectPath(),
			MediaKey:      audio.GetMediaKey(),
			FileSHA256:    audio.GetFileSHA256(),
			FileEncSHA256: audio.GetFileEncSHA256(),
		}
		return
	}

	// Audio shared as a document still counts as audio for transcription.
	if doc := waMsg.DocumentMessage; doc != nil {
		if strings.Contains(doc.GetMimetype(), "audio") {
			// Media.Type stays document so decryption uses document keys.
			msg.Type = channels.MessageAudio
			msg.Media = &channels.MediaInfo{
				Type:          channels.MessageDocument,
				MimeType:      doc.GetMimetype(),
				FileSize:      doc.GetFileLength(),
				URL:           doc.GetURL(),
				DirectPath:    doc.GetDirectPath(),
				MediaKey:      doc.GetMediaKey(),
				FileSHA256:    doc.GetFileSHA256(),
				FileEncSHA256: doc.GetFileEncSHA256(),
			}
			return
		}
		msg.Type = channels.MessageDocument
		msg.Content = doc.GetCaption()
		return
	}

	msg.Type = channels.MessageOther
}
