package data

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestFindSessionEvents(t *testing.T) {
	db := setUpDatabase(t)

	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	seed := []*SessionEvent{
		{Server: "s1", Client: "c1", Kind: "accepted", RemoteAddr: "127.0.0.1:5000", OccurredAt: start},
		{Server: "s1", Client: "c2", Kind: "accepted", RemoteAddr: "127.0.0.1:5001", OccurredAt: start.Add(time.Second)},
		{Server: "s1", Client: "c1", Kind: "peer_lost", RemoteAddr: "127.0.0.1:5000", OccurredAt: start.Add(2 * time.Second)},
		{Server: "s2", Client: "c1", Kind: "accepted", RemoteAddr: "127.0.0.1:6000", OccurredAt: start},
	}
	for _, e := range seed {
		if err := RecordSessionEvent(db, e); err != nil {
			t.Fatalf("error seeding session event: %v", err)
		}
	}

	tests := []struct {
		name   string
		server string
		client string
		want   []string
	}{
		{name: "single client", server: "s1", client: "c1", want: []string{"accepted", "peer_lost"}},
		{name: "whole server", server: "s1", want: []string{"accepted", "accepted", "peer_lost"}},
		{name: "other server", server: "s2", client: "c1", want: []string{"accepted"}},
		{name: "unknown client", server: "s1", client: "nobody", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := FindSessionEvents(db, tt.server, tt.client)
			if err != nil {
				t.Fatalf("FindSessionEvents() returned an unexpected error: %v", err)
			}

			var kinds []string
			for _, e := range events {
				kinds = append(kinds, e.Kind)
			}
			if diff := cmp.Diff(tt.want, kinds); diff != "" {
				t.Errorf("session events did not match expected; diff:\n%s", diff)
			}
		})
	}
}

func TestRecordSessionEvent(t *testing.T) {
	db := setUpDatabase(t)

	event := &SessionEvent{
		Server:     "s1",
		Client:     "c2",
		Kind:       "renamed",
		RemoteAddr: "127.0.0.1:5000",
		Detail:     "c1",
		OccurredAt: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := RecordSessionEvent(db, event); err != nil {
		t.Fatalf("RecordSessionEvent() returned an unexpected error: %v", err)
	}
	if event.ID == 0 {
		t.Error("RecordSessionEvent() did not assign an ID")
	}

	events, err := FindSessionEvents(db, "s1", "c2")
	if err != nil {
		t.Fatalf("FindSessionEvents() returned an unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("FindSessionEvents() want 1 event, got %d", len(events))
	}
	if diff := cmp.Diff(*event, events[0], cmpopts.EquateApproxTime(time.Second)); diff != "" {
		t.Errorf("session event did not match expected; diff:\n%s", diff)
	}
}
