package entities

import (
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantErr     bool
		wantContent string
	}{
		{
			name:        "well formed",
			input:       `{"id":"abc","pubkey":"pk","created_at":100,"kind":42,"tags":[["e","chan1"]],"content":"hello","sig":"sg"}`,
			wantContent: "hello",
		},
		{
			name:        "numeric content coerced",
			input:       `{"id":"abc","pubkey":"pk","created_at":100,"kind":1,"tags":[],"content":12345,"sig":"sg"}`,
			wantContent: "12345",
		},
		{
			name:        "object content coerced",
			input:       `{"id":"abc","created_at":1,"kind":40,"content":{"name":"general"}}`,
			wantContent: `{"name":"general"}`,
		},
		{
			name:    "missing id",
			input:   `{"pubkey":"pk","content":"hi"}`,
			wantErr: true,
		},
		{
			name:    "not json",
			input:   `<<<binary>>>`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := DecodeEvent([]byte(tt.input))
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected decode error")
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeEvent failed: %v", err)
			}
			if event.Content != tt.wantContent {
				t.Errorf("Content = %q, want %q", event.Content, tt.wantContent)
			}
		})
	}
}

func TestDecodeEventTags(t *testing.T) {
	input := `{"id":"abc","kind":42,"tags":[["e","chan1"],["p","peer1","wss://relay"]],"content":"x"}`
	event, err := DecodeEvent([]byte(input))
	if err != nil {
		t.Fatalf("DecodeEvent failed: %v", err)
	}
	if len(event.Tags) != 2 {
		t.Fatalf("decoded %d tags, want 2", len(event.Tags))
	}
	if ChannelTag(event) != "chan1" {
		t.Errorf("ChannelTag = %q, want chan1", ChannelTag(event))
	}
	if PeerTag(event) != "peer1" {
		t.Errorf("PeerTag = %q, want peer1", PeerTag(event))
	}
}

func TestParseChannelInfo(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
		want    ChannelInfo
	}{
		{
			name:    "full descriptor",
			payload: `{"id":"chan1","name":"general","picture":"p.png","about":"hi","is_private":true,"privkey":"k"}`,
			want:    ChannelInfo{ID: "chan1", Name: "general", Picture: "p.png", About: "hi", IsPrivate: true, Privkey: "k"},
		},
		{
			name:    "id only",
			payload: `{"id":"chan1"}`,
			want:    ChannelInfo{ID: "chan1"},
		},
		{
			name:    "missing id",
			payload: `{"name":"general"}`,
			wantErr: true,
		},
		{
			name:    "invalid json",
			payload: `{"id":`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChannelInfo(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected parse error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChannelInfo failed: %v", err)
			}
			if *got != tt.want {
				t.Errorf("ParseChannelInfo = %+v, want %+v", *got, tt.want)
			}
		})
	}
}

func TestParseChannelMetaToleratesAnything(t *testing.T) {
	if meta := ParseChannelMeta(`{"name":"trade","about":"market"}`); meta.Name != "trade" || meta.About != "market" {
		t.Errorf("ParseChannelMeta = %+v", meta)
	}
	if meta := ParseChannelMeta(`not json`); meta.Name != "" {
		t.Errorf("garbage payload produced %+v, want empty meta", meta)
	}
}

func TestPeerTagAbsent(t *testing.T) {
	event := &nostr.Event{Tags: nostr.Tags{{"e", "chan1"}}}
	if got := PeerTag(event); got != "" {
		t.Errorf("PeerTag = %q, want empty", got)
	}
	if got := PeerTag(&nostr.Event{}); got != "" {
		t.Errorf("PeerTag on bare event = %q, want empty", got)
	}
}
