package realtime

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		check func(t *testing.T, e Event)
	}{
		{
			name:  "room joined",
			frame: `{"event":"room_joined","data":{"room":"inv","user":{"user_id":"u1","username":"amy"},"users":[{"user_id":"u1"},{"user_id":"u2","color":"#fff"}]}}`,
			check: func(t *testing.T, e Event) {
				rj := e.(*RoomJoinedEvent)
				if rj.Room != "inv" || rj.User.UserID != "u1" || len(rj.Users) != 2 || rj.Users[1].Color != "#fff" {
					t.Errorf("decoded %+v", rj)
				}
			},
		},
		{
			name:  "cursor",
			frame: `{"event":"cursor_updated","data":{"user_id":"u2","row_id":"SKU-1","field":"qty_scanned","position":3}}`,
			check: func(t *testing.T, e Event) {
				c := e.(*CursorUpdatedEvent)
				if c.UserID != "u2" || c.RowID != "SKU-1" || c.Field != "qty_scanned" || c.Position != 3 {
					t.Errorf("decoded %+v", c)
				}
			},
		},
		{
			name:  "forced cancel",
			frame: `{"event":"session_forced_cancel","data":{"session_id":"s-1","reason":"duplicate"}}`,
			check: func(t *testing.T, e Event) {
				s := e.(*SessionEvent)
				if s.EventType() != EventSessionForcedCancel || s.SessionID != "s-1" || s.Reason != "duplicate" {
					t.Errorf("decoded %+v", s)
				}
			},
		},
		{
			name:  "takeover response",
			frame: `{"event":"takeover_response","data":{"session_id":"s-1","accepted":true}}`,
			check: func(t *testing.T, e Event) {
				if r := e.(*TakeoverResponseEvent); !r.Accepted {
					t.Errorf("decoded %+v", r)
				}
			},
		},
		{
			name:  "no data",
			frame: `{"event":"user_left"}`,
			check: func(t *testing.T, e Event) {
				if _, ok := e.(*UserLeftEvent); !ok {
					t.Errorf("got %T", e)
				}
			},
		},
		{
			name:  "unknown",
			frame: `{"event":"label_printed","data":{"id":1}}`,
			check: func(t *testing.T, e Event) {
				u := e.(*UnknownEvent)
				if u.EventType() != "label_printed" || string(u.Data) != `{"id":1}` {
					t.Errorf("decoded %+v", u)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f Frame
			if err := json.Unmarshal([]byte(tt.frame), &f); err != nil {
				t.Fatalf("frame: %v", err)
			}
			e, err := Decode(f)
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if e.Timestamp().IsZero() {
				t.Error("timestamp not set")
			}
			tt.check(t, e)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	for _, f := range []Frame{
		{Event: ""},
		{Event: EventDisconnected},
		{Event: EventCursorUpdated, Data: json.RawMessage(`{"position":"nope"}`)},
	} {
		if _, err := Decode(f); err == nil {
			t.Errorf("Decode(%s) should fail", f.Event)
		}
	}
}

func TestEncode(t *testing.T) {
	data, err := Encode(EmitUpdateCursor, map[string]any{"row_id": "A", "field": "qty", "position": 1})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	want := `{"event":"update_cursor","data":{"field":"qty","position":1,"row_id":"A"}}`
	if string(data) != want {
		t.Errorf("Encode = %s, want %s", data, want)
	}
}
