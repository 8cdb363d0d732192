package notify

import (
	"context"
	"testing"
)

func TestPublisher_NilClientDrops(t *testing.T) {
	p := NewPublisher(nil, "wardrobe_events")
	if p != nil {
		t.Fatalf("expected nil publisher without a client")
	}
	if err := p.Publish(context.Background(), Event{UserID: "u1", Tool: "delete_cloth"}); err != nil {
		t.Fatalf("nil publisher must drop events: %v", err)
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"user_id":"u1","tool":"delete_cloth","arguments":{"cloth_id":42},"status":"success"}`, false},
		{"missing tool", `{"user_id":"u1"}`, true},
		{"not json", `deleted`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.payload)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Decode() err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (ev.UserID != "u1" || ev.Tool != "delete_cloth") {
				t.Fatalf("unexpected event %+v", ev)
			}
		})
	}
}
