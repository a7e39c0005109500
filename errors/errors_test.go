package errors

import (
	"errors"
	"slices"
	"strings"
	"testing"
)

func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		contains []string
	}{
		{
			name: "malformed with offset",
			err: &Error{
				Phase:     PhaseParse,
				Kind:      KindMalformedModule,
				Rule:      "section_length",
				Offset:    42,
				HasOffset: true,
				Path:      []string{"code"},
				Detail:    "declared 10 bytes",
			},
			contains: []string{"[parse]", "malformed_module(section_length)", "at byte 42", "in code", "declared 10 bytes"},
		},
		{
			name: "minimal error",
			err: &Error{
				Phase: PhaseMetadata,
				Kind:  KindSelectorCollision,
			},
			contains: []string{"[metadata]", "selector_collision"},
		},
		{
			name: "error with cause",
			err: &Error{
				Phase:  PhaseOptimize,
				Kind:   KindCollaboratorUnavailable,
				Detail: "optimizer unavailable",
				Cause:  errors.New("exec: not found"),
			},
			contains: []string{"[optimize]", "collaborator_unavailable", "caused by", "exec: not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, s := range tt.contains {
				if !strings.Contains(msg, s) {
					t.Errorf("Error() = %q, missing %q", msg, s)
				}
			}
		})
	}
}

func TestError_NoOffsetWhenUnset(t *testing.T) {
	err := &Error{Phase: PhaseParse, Kind: KindMalformedModule}
	if strings.Contains(err.Error(), "at byte") {
		t.Errorf("unexpected offset in %q", err.Error())
	}
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &Error{
		Phase: PhaseParse,
		Kind:  KindMalformedModule,
		Cause: cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestError_Is(t *testing.T) {
	err := &Error{
		Phase: PhaseParse,
		Kind:  KindMalformedModule,
		Rule:  "truncated",
	}

	tests := []struct {
		target *Error
		want   bool
	}{
		{&Error{Phase: PhaseParse, Kind: KindMalformedModule}, true},
		{&Error{Phase: PhaseParse, Kind: KindMalformedModule, Rule: "truncated"}, true},
		{&Error{Phase: PhaseParse, Kind: KindMalformedModule, Rule: "section_order"}, false},
		{&Error{Phase: PhaseValidate, Kind: KindMalformedModule}, false},
		{&Error{Phase: PhaseParse, Kind: KindInvalidInput}, false},
	}
	for _, tt := range tests {
		if got := err.Is(tt.target); got != tt.want {
			t.Errorf("Is(%s/%s/%s) = %v, want %v", tt.target.Phase, tt.target.Kind, tt.target.Rule, got, tt.want)
		}
	}

	if !errors.Is(err, &Error{Phase: PhaseParse, Kind: KindMalformedModule}) {
		t.Error("errors.Is should match on phase and kind")
	}
}

func TestBuilder(t *testing.T) {
	cause := errors.New("root")
	err := New(PhaseParse, KindMalformedModule).
		Rule("index_out_of_range").
		At(17).
		Path("export").
		Value(9).
		Cause(cause).
		Detail("index %d exceeds %d", 9, 3).
		Build()

	if err.Phase != PhaseParse || err.Kind != KindMalformedModule {
		t.Errorf("got %s/%s", err.Phase, err.Kind)
	}
	if err.Rule != "index_out_of_range" {
		t.Errorf("Rule = %q", err.Rule)
	}
	if !err.HasOffset || err.Offset != 17 {
		t.Errorf("offset = %d (set %v), want 17", err.Offset, err.HasOffset)
	}
	if !slices.Equal(err.Path, []string{"export"}) {
		t.Errorf("Path = %v", err.Path)
	}
	if err.Value != 9 {
		t.Errorf("Value = %v", err.Value)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not wrapped")
	}
	if err.Detail != "index 9 exceeds 3" {
		t.Errorf("Detail = %q", err.Detail)
	}
}

func TestConvenienceConstructors(t *testing.T) {
	t.Run("Malformed", func(t *testing.T) {
		err := Malformed("truncated", 8, "type", errors.New("eof"))
		if err.Kind != KindMalformedModule || err.Phase != PhaseParse {
			t.Errorf("got %s/%s", err.Phase, err.Kind)
		}
		if !err.HasOffset {
			t.Error("expected an offset")
		}
		if !slices.Equal(err.Path, []string{"type"}) {
			t.Errorf("Path = %v", err.Path)
		}
	})

	t.Run("ValidationFailed", func(t *testing.T) {
		err := ValidationFailed("report", "2 violations")
		if err.Kind != KindValidationFailure {
			t.Errorf("Kind = %s", err.Kind)
		}
		if err.Value != "report" {
			t.Errorf("Value = %v", err.Value)
		}
	})

	t.Run("SelectorCollision", func(t *testing.T) {
		err := SelectorCollision("messages", "a", "b", "0x00000000")
		if err.Kind != KindSelectorCollision {
			t.Errorf("Kind = %s", err.Kind)
		}
		if err.Rule != "unique_messages_selector" {
			t.Errorf("Rule = %q", err.Rule)
		}
		if err.Value != [2]string{"a", "b"} {
			t.Errorf("Value = %v", err.Value)
		}
		if !strings.Contains(err.Error(), `"a" and "b"`) {
			t.Errorf("Error() = %q", err.Error())
		}
	})

	t.Run("Collaborator", func(t *testing.T) {
		if k := CollaboratorUnavailable(nil).Kind; k != KindCollaboratorUnavailable {
			t.Errorf("Kind = %s", k)
		}
		rej := CollaboratorRejected("profile", "output fails profile", nil)
		if rej.Kind != KindCollaboratorRejected || rej.Rule != "profile" {
			t.Errorf("got %s(%s)", rej.Kind, rej.Rule)
		}
	})

	t.Run("Inconsistency", func(t *testing.T) {
		err := Inconsistency(PhasePackage, "hash mismatch")
		if err.Kind != KindInternalInconsistency || err.Phase != PhasePackage {
			t.Errorf("got %s/%s", err.Phase, err.Kind)
		}
	})

	t.Run("Overflow", func(t *testing.T) {
		err := Overflow(PhaseTranscode, []string{"arg"}, 300, "u8")
		if err.Kind != KindOverflow || err.Value != 300 {
			t.Errorf("got %s value %v", err.Kind, err.Value)
		}
	})

	t.Run("TypeMismatch", func(t *testing.T) {
		err := TypeMismatch(PhaseTranscode, []string{"to"}, "bool", "string")
		if err.Kind != KindTypeMismatch {
			t.Errorf("Kind = %s", err.Kind)
		}
		if !strings.Contains(err.Detail, "expected bool") {
			t.Errorf("Detail = %q", err.Detail)
		}
	})
}
