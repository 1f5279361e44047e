package pagination

import (
	"errors"
	"testing"
	"time"
)

func TestTokenRoundTrip(t *testing.T) {
	cursor := Cursor{CreatedAt: time.Date(2024, 3, 9, 10, 30, 0, 123, time.UTC), ID: "01HZX3J6M2K1"}

	token, err := EncodeToken(cursor)
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	got, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if !got.CreatedAt.Equal(cursor.CreatedAt) || got.ID != cursor.ID {
		t.Fatalf("round trip mismatch: %+v", got)
	}
}

func TestEncodeZeroCursor(t *testing.T) {
	token, err := EncodeToken(Cursor{})
	if err != nil || token != "" {
		t.Fatalf("expected empty token, got %q err=%v", token, err)
	}
	cursor, err := DecodeToken("  ")
	if err != nil || cursor != (Cursor{}) {
		t.Fatalf("expected zero cursor, got %+v err=%v", cursor, err)
	}
}

func TestDecodeTokenInvalid(t *testing.T) {
	tests := map[string]string{
		"not base64": "***",
		"not json":   "bm90LWpzb24",
		"missing id": "eyJjIjoiMjAyNC0wMy0wOVQxMDozMDowMFoiLCJpIjoiIn0",
		"bad time":   "eyJjIjoieWVzdGVyZGF5IiwiaSI6Im9yZC0xIn0",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeToken(token); !errors.Is(err, ErrInvalidPageToken) {
				t.Fatalf("expected ErrInvalidPageToken, got %v", err)
			}
		})
	}
}

func TestClampPageSize(t *testing.T) {
	cases := []struct{ in, want int }{{0, 20}, {-3, 20}, {15, 15}, {500, 100}}
	for _, tc := range cases {
		if got := ClampPageSize(tc.in, 20, 100); got != tc.want {
			t.Fatalf("ClampPageSize(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
