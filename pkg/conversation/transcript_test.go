package conversation

import "testing"

func TestFormatClock(t *testing.T) {
	tests := map[int64]string{
		0:         "00:00:00",
		999:       "00:00:00",
		61_500:    "00:01:01",
		3_723_000: "01:02:03",
	}
	for ms, want := range tests {
		if got := FormatClock(ms); got != want {
			t.Errorf("FormatClock(%d) = %q, want %q", ms, got, want)
		}
	}
}

func TestTranscriptFormats(t *testing.T) {
	utts := []Utterance{
		{Speaker: "Alice", StartMS: 0, EndMS: 1500, Text: "hello"},
		{Speaker: "Unknown_B", StartMS: 61_000, EndMS: 62_000, Text: "hi"},
	}
	want := "Conversation Transcript: call.wav\n=====================\n\n" +
		"[Alice 00:00:00-00:00:01]: hello\n\n" +
		"[Unknown_B 00:01:01-00:01:02]: hi\n\n"
	if got := Transcript("call.wav", utts); got != want {
		t.Fatalf("Transcript =\n%s\nwant\n%s", got, want)
	}
	wantLegacy := "Conversation Transcript: call.wav\n=====================\n\n" +
		"Alice: hello\n\nUnknown_B: hi\n\n"
	if got := LegacyTranscript("call.wav", utts); got != wantLegacy {
		t.Fatalf("LegacyTranscript =\n%s", got)
	}
}

func TestRenameInTranscript(t *testing.T) {
	in := "[Bob 00:00:01-00:00:02]: Bob said hi\n\n[Bobby 00:00:03-00:00:04]: x\n\n[Bob 00:00:05-00:00:06]: y\n"
	out, changed := RenameInTranscript(in, "Bob", "Robert $1")
	if !changed {
		t.Fatal("expected change")
	}
	want := "[Robert $1 00:00:01-00:00:02]: Bob said hi\n\n[Bobby 00:00:03-00:00:04]: x\n\n[Robert $1 00:00:05-00:00:06]: y\n"
	if out != want {
		t.Fatalf("got\n%s", out)
	}
	if _, changed := RenameInTranscript(out, "Bob", "Robert"); changed {
		t.Fatal("second rename should be a no-op")
	}
}

func TestRenameInLegacyTranscript(t *testing.T) {
	in := "Conversation Transcript: x\n\nUnknown_A: hi\n\nAlice: Unknown_A: quoted\n\nUnknown_A: bye\n"
	out, changed := RenameInLegacyTranscript(in, "Unknown_A", "Carol")
	if !changed {
		t.Fatal("expected change")
	}
	want := "Conversation Transcript: x\n\nCarol: hi\n\nAlice: Unknown_A: quoted\n\nCarol: bye\n"
	if out != want {
		t.Fatalf("got\n%s", out)
	}
}
