package types_test

import (
	"testing"

	"github.com/secmon-lab/iris/pkg/domain/types"
)

func TestNotificationStatusTransitions(t *testing.T) {
	cases := []struct {
		from types.NotificationStatus
		to   types.NotificationStatus
		want bool
	}{
		{types.NotificationStatusPending, types.NotificationStatusProcessing, true},
		{types.NotificationStatusPending, types.NotificationStatusDone, false},
		{types.NotificationStatusPending, types.NotificationStatusFailed, false},
		{types.NotificationStatusProcessing, types.NotificationStatusDone, true},
		{types.NotificationStatusProcessing, types.NotificationStatusFailed, true},
		{types.NotificationStatusProcessing, types.NotificationStatusPending, false},
		{types.NotificationStatusFailed, types.NotificationStatusProcessing, true},
		{types.NotificationStatusFailed, types.NotificationStatusDone, false},
		{types.NotificationStatusDone, types.NotificationStatusProcessing, false},
		{types.NotificationStatusDone, types.NotificationStatusFailed, false},
		{types.NotificationStatusDone, types.NotificationStatusPending, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestNotificationStatusDoneIsTerminal(t *testing.T) {
	if !types.NotificationStatusDone.IsTerminal() {
		t.Error("done must be terminal")
	}
	if types.NotificationStatusFailed.IsTerminal() {
		t.Error("failed must remain retriable")
	}
}

func TestParseNotificationStatus(t *testing.T) {
	for _, s := range types.AllNotificationStatuses() {
		parsed, err := types.ParseNotificationStatus(s.String())
		if err != nil {
			t.Fatalf("ParseNotificationStatus(%s) failed: %v", s, err)
		}
		if parsed != s {
			t.Errorf("ParseNotificationStatus(%s) = %s", s, parsed)
		}
	}

	if _, err := types.ParseNotificationStatus("archived"); err == nil {
		t.Error("expected error for unknown status")
	}
}
