package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestAppErrorMessage(t *testing.T) {
	err := New(CodePermissionDenied, "screen capture refused")
	want := "[PERMISSION_DENIED] screen capture refused"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("socket closed")
	err := Wrap(cause, CodeBridgeUnavailable, "bridge call failed")

	if !stderrors.Is(err, cause) {
		t.Error("wrapped error should match cause via errors.Is")
	}
	if CodeOf(err) != CodeBridgeUnavailable {
		t.Errorf("CodeOf = %v, want CodeBridgeUnavailable", CodeOf(err))
	}
}

func TestCodeOfWalksChain(t *testing.T) {
	inner := New(CodeFrameTimeout, "no frame within deadline")
	outer := fmt.Errorf("session start: %w", inner)

	if CodeOf(outer) != CodeFrameTimeout {
		t.Errorf("CodeOf through fmt wrap = %v, want CodeFrameTimeout", CodeOf(outer))
	}
}

func TestIsCode(t *testing.T) {
	err := Newf(CodeWindowNotFound, "no window matching %q", "chrome")
	if !IsCode(err, CodeWindowNotFound) {
		t.Error("IsCode should match")
	}
	if IsCode(err, CodePermissionDenied) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(nil, CodeWindowNotFound) {
		t.Error("IsCode(nil) should be false")
	}
}

func TestIsRetryable(t *testing.T) {
	cases := []struct {
		code Code
		want bool
	}{
		{CodeFrameTimeout, true},
		{CodeBridgeUnavailable, true},
		{CodePermissionDenied, false},
		{CodeWindowNotFound, false},
		{CodeHashUnavailable, false},
	}

	for _, tc := range cases {
		if got := IsRetryable(New(tc.code, "x")); got != tc.want {
			t.Errorf("IsRetryable(%v) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestWithMetadata(t *testing.T) {
	err := New(CodeWindowNotFound, "lookup failed").WithMetadata("process", "figma")
	if err.Metadata["process"] != "figma" {
		t.Errorf("metadata = %v", err.Metadata)
	}
}
