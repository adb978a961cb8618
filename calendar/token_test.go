package calendar

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

type stubSource struct {
	tok *oauth2.Token
	err error
}

func (s *stubSource) Token() (*oauth2.Token, error) { return s.tok, s.err }

func TestTokenRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "token.json")
	want := &oauth2.Token{AccessToken: "a", RefreshToken: "r", Expiry: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	if err := saveToken(path, want); err != nil {
		t.Fatal(err)
	}
	got, err := tokenFromFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || !got.Expiry.Equal(want.Expiry) {
		t.Fatalf("unexpected token %+v", got)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("token file should be private, got %v", info.Mode())
	}
}

func TestTokenFromFileErrors(t *testing.T) {
	dir := t.TempDir()
	if _, err := tokenFromFile(filepath.Join(dir, "missing.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
	bad := filepath.Join(dir, "bad.json")
	os.WriteFile(bad, []byte("{not json"), 0o600)
	if _, err := tokenFromFile(bad); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFileTokenSourceSavesRefreshedToken(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token.json")
	old := &oauth2.Token{AccessToken: "old", RefreshToken: "r"}
	stub := &stubSource{tok: old}
	src := &fileTokenSource{src: stub, path: path, last: old}

	if _, err := src.Token(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("unchanged token should not be written")
	}

	stub.tok = &oauth2.Token{AccessToken: "new", RefreshToken: "r"}
	if _, err := src.Token(); err != nil {
		t.Fatal(err)
	}
	saved, err := tokenFromFile(path)
	if err != nil || saved.AccessToken != "new" {
		t.Fatalf("expected refreshed token saved, got %+v %v", saved, err)
	}

	stub.err = errors.New("revoked")
	if _, err := src.Token(); err == nil {
		t.Fatal("expected refresh error")
	}
}
