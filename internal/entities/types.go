// Package entities holds the shared domain types exchanged between the
// managers and the state tree, plus tolerant parsers for the JSON payloads
// remote peers embed in event content. Remote payloads are never trusted
// to be well-formed; parsers extract what they can and report what they
// could not.
package entities

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// Event kinds hearth reconciles.
const (
	KindProfileMetadata = 0
	KindContactList     = 3
	KindEncryptedDM     = 4
	KindChannelCreate   = 40
	KindChannelMetadata = 41
	KindChannelMessage  = 42
	KindChannelInvite   = 99
	KindContactSecrets  = 30000
)

// ListOptions bounds a private-message fetch.
type ListOptions struct {
	Limit int
	Since int64
}

// PrivateMessage is a decrypted direct-message event stamped with the
// derived lastMessageAt the conversation list sorts by.
type PrivateMessage struct {
	*nostr.Event
	LastMessageAt int64 `json:"lastMessageAt"`
}

// Contact is one entry of the reconciled contact list. Legacy marks peers
// still on the shared-secret encryption scheme; Secret carries that
// scheme's key material.
type Contact struct {
	PubKey string `json:"pubkey"`
	Legacy bool   `json:"legacy"`
	Secret string `json:"secret"`
}

// ChannelInfo describes a channel as carried by create/metadata events and
// invite payloads.
type ChannelInfo struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Picture   string `json:"picture"`
	About     string `json:"about"`
	IsPrivate bool   `json:"is_private"`
	// Privkey is the channel's shared key; empty for public channels.
	Privkey string `json:"privkey"`
}

// ChannelMeta is the displayable subset of channel metadata.
type ChannelMeta struct {
	Name    string `json:"name"`
	Picture string `json:"picture"`
	About   string `json:"about"`
}

// ParseChannelInfo extracts a channel descriptor from a JSON payload
// (an invite body or a kind-40/41 content). It tolerates missing fields
// but requires a channel id.
func ParseChannelInfo(payload string) (*ChannelInfo, error) {
	if !gjson.Valid(payload) {
		return nil, fmt.Errorf("channel payload is not valid JSON")
	}
	parsed := gjson.Parse(payload)

	id := parsed.Get("id").String()
	if id == "" {
		return nil, fmt.Errorf("channel payload has no id")
	}

	return &ChannelInfo{
		ID:        id,
		Name:      parsed.Get("name").String(),
		Picture:   parsed.Get("picture").String(),
		About:     parsed.Get("about").String(),
		IsPrivate: parsed.Get("is_private").Bool(),
		Privkey:   parsed.Get("privkey").String(),
	}, nil
}

// ParseChannelMeta extracts displayable metadata from a kind-40/41 content
// payload. Unlike ParseChannelInfo it has no required fields: a metadata
// event with an empty body is just empty metadata.
func ParseChannelMeta(payload string) *ChannelMeta {
	parsed := gjson.Parse(payload)
	return &ChannelMeta{
		Name:    parsed.Get("name").String(),
		Picture: parsed.Get("picture").String(),
		About:   parsed.Get("about").String(),
	}
}

// DecodeEvent decodes a wire-format event, tolerating the ways
// non-conforming senders bend the format. In particular a content field
// that is not a JSON string (some clients emit bare numbers) is coerced
// to its textual representation instead of failing the decode.
func DecodeEvent(data []byte) (*nostr.Event, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("event is not valid JSON")
	}
	parsed := gjson.ParseBytes(data)

	id := parsed.Get("id").String()
	if id == "" {
		return nil, fmt.Errorf("event has no id")
	}

	content := parsed.Get("content")
	contentStr := content.String()
	if content.Exists() && content.Type != gjson.String {
		contentStr = content.Raw
	}

	var tags nostr.Tags
	for _, tag := range parsed.Get("tags").Array() {
		var entry nostr.Tag
		for _, field := range tag.Array() {
			entry = append(entry, field.String())
		}
		tags = append(tags, entry)
	}

	return &nostr.Event{
		ID:        id,
		PubKey:    parsed.Get("pubkey").String(),
		CreatedAt: nostr.Timestamp(parsed.Get("created_at").Int()),
		Kind:      int(parsed.Get("kind").Int()),
		Tags:      tags,
		Content:   contentStr,
		Sig:       parsed.Get("sig").String(),
	}, nil
}

// PeerTag returns the first "p" tag value of an event, or empty.
func PeerTag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "p" {
			return tag[1]
		}
	}
	return ""
}

// ChannelTag returns the first "e" tag value of an event, or empty. For
// kind-42 messages this is the channel the message belongs to.
func ChannelTag(event *nostr.Event) string {
	for _, tag := range event.Tags {
		if len(tag) >= 2 && tag[0] == "e" {
			return tag[1]
		}
	}
	return ""
}
