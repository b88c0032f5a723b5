package token

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/SezarMAB/clinicx-session/internal/storage"
)

func newTestStore(t *testing.T) (*Store, storage.Client) {
	t.Helper()
	st := storage.NewMemory("test")
	s := NewStore(context.Background(), st)
	t.Cleanup(s.Close)
	return s, st
}

func TestStore_SetComputesExpFromExpiresIn(t *testing.T) {
	base := time.Unix(1_700_000_000, 0)
	fixedNow(t, base)

	s, _ := newTestStore(t)
	s.Set(context.Background(), TokenData{AccessToken: "at", ExpiresIn: 300})

	cur, ok := s.Current()
	if !ok {
		t.Fatal("expected current token")
	}
	if cur.ExpiresAt != base.Unix()+300 {
		t.Fatalf("ExpiresAt=%d want %d", cur.ExpiresAt, base.Unix()+300)
	}
	if cur.TokenType != "bearer" {
		t.Fatalf("TokenType=%q", cur.TokenType)
	}
}

func TestStore_PersistsThreeEntries(t *testing.T) {
	s, st := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, TokenData{
		AccessToken:  "at",
		RefreshToken: "rt",
		IDToken:      "idt",
		ExpiresIn:    60,
	})

	blob, err := st.Get(ctx, "session:token")
	if err != nil {
		t.Fatalf("token blob: %v", err)
	}
	var pt map[string]any
	if err := json.Unmarshal([]byte(blob), &pt); err != nil {
		t.Fatalf("blob json: %v", err)
	}
	if pt["access_token"] != "at" {
		t.Fatalf("blob: %v", pt)
	}

	if rt, err := st.Get(ctx, "session:refresh_token"); err != nil || rt != "rt" {
		t.Fatalf("refresh side channel: %q %v", rt, err)
	}
	if idt, err := st.Get(ctx, "session:id_token"); err != nil || idt != "idt" {
		t.Fatalf("id token side channel: %q %v", idt, err)
	}
}

func TestStore_ClearPurgesEverything(t *testing.T) {
	s, st := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, TokenData{AccessToken: "at", RefreshToken: "rt", IDToken: "idt"})
	s.Clear(ctx)

	if _, ok := s.Current(); ok {
		t.Fatal("expected no current token after clear")
	}
	for _, k := range []string{"session:token", "session:refresh_token", "session:id_token"} {
		if _, err := st.Get(ctx, k); !storage.IsNotFound(err) {
			t.Fatalf("key %s should be gone, err=%v", k, err)
		}
	}
}

func TestStore_SubscribeSeesChanges(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	ch, cancel := s.Subscribe()
	defer cancel()

	s.Set(ctx, TokenData{AccessToken: "at1"})
	snap := <-ch
	if !snap.OK || snap.Token.AccessToken != "at1" {
		t.Fatalf("first snapshot: %+v", snap)
	}

	s.Clear(ctx)
	snap = <-ch
	if snap.OK {
		t.Fatalf("expected absent snapshot, got %+v", snap)
	}
}

func TestStore_RefreshDueFiresForExpiredToken(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// exp en el pasado: el delay clampea a 0 y el timer dispara enseguida.
	s.Set(ctx, TokenData{AccessToken: "at", ExpiresAt: time.Now().Unix() - 100})

	select {
	case <-s.RefreshDue():
	case <-time.After(2 * time.Second):
		t.Fatal("refresh-due did not fire for expired token")
	}
}

func TestStore_ClearDisarmsTimer(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	s.Set(ctx, TokenData{AccessToken: "at", ExpiresIn: 6})
	s.Clear(ctx)

	select {
	case <-s.RefreshDue():
		t.Fatal("timer fired after clear")
	case <-time.After(1500 * time.Millisecond):
	}
}

func TestStore_RehydratesPersistedToken(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory("test")

	first := NewStore(ctx, st)
	first.Set(ctx, TokenData{AccessToken: "at", RefreshToken: "rt", ExpiresIn: 3600})
	first.Close()

	second := NewStore(ctx, st)
	defer second.Close()

	cur, ok := second.Current()
	if !ok {
		t.Fatal("expected rehydrated token")
	}
	if cur.AccessToken != "at" || cur.RefreshToken != "rt" {
		t.Fatalf("rehydrated: %+v", cur)
	}
}

func TestStore_CorruptBlobMeansNoToken(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory("test")
	_ = st.Set(ctx, "session:token", "{not json", 0)

	s := NewStore(ctx, st)
	defer s.Close()

	if _, ok := s.Current(); ok {
		t.Fatal("corrupt blob should rehydrate to absent token")
	}
}
