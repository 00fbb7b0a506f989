package lww

import (
	"testing"
	"time"
)

func TestAccept_MissingCurrentAlwaysWins(t *testing.T) {
	if !Accept("", "2024-01-10T08:00:00.000Z") {
		t.Error("Accept with empty current should be true")
	}
	if !Accept("", "") {
		t.Error("Accept with both empty should be true")
	}
}

func TestAccept_NewerIncomingWins(t *testing.T) {
	if !Accept("2024-01-10T08:00:00.000Z", "2024-01-10T09:00:00.000Z") {
		t.Error("newer incoming should be accepted")
	}
}

func TestAccept_OlderIncomingLoses(t *testing.T) {
	if Accept("2024-01-10T09:00:00.000Z", "2024-01-10T08:00:00.000Z") {
		t.Error("older incoming should be rejected")
	}
}

func TestAccept_TieFavorsIncoming(t *testing.T) {
	stamp := "2024-01-10T08:00:00.000Z"
	if !Accept(stamp, stamp) {
		t.Error("equal timestamps should favor the incoming version")
	}
}

func TestStamp_LexicographicOrderMatchesChronological(t *testing.T) {
	base := time.Date(2024, 1, 10, 8, 0, 0, 0, time.UTC)
	earlier := Stamp(base)
	later := Stamp(base.Add(250 * time.Millisecond))
	if !(earlier < later) {
		t.Errorf("expected %q < %q", earlier, later)
	}
}

func TestStamp_MillisecondPrecision(t *testing.T) {
	got := Stamp(time.Date(2024, 1, 10, 8, 30, 15, 123_000_000, time.UTC))
	want := "2024-01-10T08:30:15.123Z"
	if got != want {
		t.Errorf("Stamp() = %q, want %q", got, want)
	}
}

func TestEpoch_IsBeforeEverything(t *testing.T) {
	if !(Epoch < Now()) {
		t.Error("Epoch should sort before the current time")
	}
}
