package ferr

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessageIncludesKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := IO("write manifest: %w", cause)

	want := "io: write manifest: disk full"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := Lifecycle("leader lease is missing")
	want := "lifecycle: leader lease is missing"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Channel("request dropped: %w", cause)

	if !errors.Is(err, cause) {
		t.Fatal("want errors.Is to find the wrapped cause")
	}
}

func TestErrorsIsMatchesByKind(t *testing.T) {
	err := Protocol("bad envelope")
	if !errors.Is(err, IsProtocol) {
		t.Fatal("want errors.Is to match IsProtocol sentinel")
	}
	if errors.Is(err, IsMemory) {
		t.Fatal("want errors.Is to reject a different kind")
	}
}

func TestAllConstructorsTagCorrectKind(t *testing.T) {
	cases := []struct {
		build func(string, ...any) *Error
		kind  Kind
	}{
		{Config, KindConfig},
		{Memory, KindMemory},
		{Lifecycle, KindLifecycle},
		{Protocol, KindProtocol},
		{Channel, KindChannel},
		{Pipeline, KindPipeline},
		{IO, KindIO},
	}
	for _, c := range cases {
		err := c.build("boom")
		if err.Kind != c.kind {
			t.Fatalf("got kind %q, want %q", err.Kind, c.kind)
		}
	}
}

func TestFormatArgsIgnoredWhenLastArgIsNotError(t *testing.T) {
	err := Config("bad value %d", 7)
	if err.Err != nil {
		t.Fatalf("want no wrapped cause, got %v", err.Err)
	}
	if err.Msg != fmt.Sprintf("bad value %d", 7) {
		t.Fatalf("got %q", err.Msg)
	}
}
