package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsPersistence(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{
			name: "persistence error",
			err:  ErrPersistence,
			want: true,
		},
		{
			name: "wrapped persistence error",
			err:  fmt.Errorf("%w: redis set: %w", ErrPersistence, errors.New("connection refused")),
			want: true,
		},
		{
			name: "decode error",
			err:  ErrDecode,
			want: false,
		},
		{
			name: "nil error",
			err:  nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IsPersistence(tt.err)
			if got != tt.want {
				t.Errorf("IsPersistence() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsDecode(t *testing.T) {
	if !IsDecode(errors.Join(ErrDecode, errors.New("unexpected end of JSON input"))) {
		t.Error("expected joined decode error to match")
	}
	if IsDecode(ErrPersistence) {
		t.Error("persistence error must not be a decode error")
	}
}

func TestIsOutsideScope(t *testing.T) {
	if !IsOutsideScope(fmt.Errorf("grpc: %w", ErrOutsideScope)) {
		t.Error("expected wrapped scope error to match")
	}
	if IsOutsideScope(nil) {
		t.Error("nil must not match")
	}
}

func TestIsValidation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "id required", err: ErrItemIDRequired, want: true},
		{name: "price invalid", err: ErrItemPriceInvalid, want: true},
		{name: "qty invalid", err: ErrItemQtyInvalid, want: true},
		{name: "duplicate", err: ErrItemDuplicate, want: true},
		{name: "persistence", err: ErrPersistence, want: false},
		{name: "nil", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsValidation(tt.err); got != tt.want {
				t.Errorf("IsValidation() = %v, want %v", got, tt.want)
			}
		})
	}
}
