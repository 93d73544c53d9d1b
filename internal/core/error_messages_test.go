package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"invalid config", fmt.Errorf("%w: organizationId is required", ErrInvalidConfig), "IMP001"},
		{"organization", precondition("resolve organization", ErrNotFound), "IMP002"},
		{"scope", precondition("resolve scope", ErrNotFound), "IMP003"},
		{"transition", &TransitionError{Kind: "job", From: StateFinished, To: StateStarted}, "IMP005"},
		{"bucket", errors.New("list files: The specified bucket does not exist"), "SRC001"},
		{"truncated", errors.New("malformed export at byte 120: unexpected EOF"), "PAR001"},
		{"malformed", errors.New("malformed export at byte 9: invalid character ']'"), "PAR002"},
		{"duplicate key", errors.New("ERROR: duplicate key value violates unique constraint"), "DB001"},
		{"connection refused", errors.New("dial tcp: connection refused"), "DB003"},
		{"cancelled", errors.New("context canceled"), "REQ001"},
		{"bad id", errors.New("invalid import id: invalid UUID length: 3"), "REQ003"},
		{"missing job", fmt.Errorf("job 42: %w", ErrNotFound), "REQ004"},
		{"unknown", errors.New("something odd"), "ERR000"},
		{"case insensitive", errors.New("DEADLOCK detected"), "DB005"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := MapError(tt.err); got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestMapMessage_Empty(t *testing.T) {
	if got := MapMessage(""); got != (UserMessage{}) {
		t.Errorf("MapMessage(\"\") = %+v, want zero", got)
	}
}

func TestFormatUserError(t *testing.T) {
	got := FormatUserError(errors.New("deadlock detected"))
	want := "Database was busy with conflicting operations (Code: DB005). Please try again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestIsUserFacing(t *testing.T) {
	if IsUserFacing(nil) {
		t.Error("nil should not be user facing")
	}
	if !IsUserFacing(errors.New("access denied")) {
		t.Error("access denied should be user facing")
	}
	if IsUserFacing(errors.New("xyz")) {
		t.Error("unknown error should not be user facing")
	}
}

func TestNewUserError(t *testing.T) {
	if NewUserError(nil) != nil {
		t.Error("NewUserError(nil) should be nil")
	}

	tech := errors.New("no such key: exports/users.json")
	ue := NewUserError(tech)
	if ue.User.Code != "SRC003" {
		t.Errorf("code = %q, want SRC003", ue.User.Code)
	}
	if !errors.Is(ue, tech) {
		t.Error("Unwrap should return the technical error")
	}
}
