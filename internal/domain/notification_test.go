package domain

import "testing"

func TestNotificationCategory_Valid(t *testing.T) {
	for _, c := range []NotificationCategory{
		NotificationTransferReceived, NotificationTransferSent, NotificationTransferFailed,
		NotificationAlert, NotificationSystem, NotificationPromotional,
	} {
		if !c.Valid() {
			t.Fatalf("expected %q to be valid", c)
		}
	}
	for _, c := range []NotificationCategory{"", "transfer_received", "BOGUS"} {
		if c.Valid() {
			t.Fatalf("expected %q to be invalid", c)
		}
	}
}
