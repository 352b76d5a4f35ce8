package sessioncache

import (
	"fmt"
	"testing"
	"time"
)

const testRef = "mdproj"

func newTestCache(t *testing.T, blob string) *Cache {
	t.Helper()
	store := NewMemoryStore()
	if blob != "" {
		if err := store.Set(Key(testRef), []byte(blob)); err != nil {
			t.Fatalf("Set: %v", err)
		}
	}
	c := New(store, testRef)
	c.nowF = func() time.Time { return time.Unix(1_700_000_000, 0) }
	return c
}

func TestKey(t *testing.T) {
	if got := Key("mdproj"); got != "mdproj-auth-token" {
		t.Errorf("Key: got %q", got)
	}
}

func TestRead_FlatShape(t *testing.T) {
	c := newTestCache(t, `{"access_token":"at","refresh_token":"rt","expires_at":1700003600,"user":{"id":"u1","email":"a@b.c"}}`)
	s := c.Read()
	if s == nil {
		t.Fatal("Read returned nil for flat shape")
	}
	if s.AccessToken != "at" || s.RefreshToken != "rt" || s.User == nil || s.User.ID != "u1" {
		t.Errorf("Read flat: got %+v", s)
	}
}

func TestRead_LegacyWrapperShape(t *testing.T) {
	c := newTestCache(t, `{"currentSession":{"access_token":"at","refresh_token":"rt","user":{"id":"u1"}}}`)
	s := c.Read()
	if s == nil {
		t.Fatal("Read returned nil for legacy wrapper shape")
	}
	if s.AccessToken != "at" || s.User.ID != "u1" {
		t.Errorf("Read wrapper: got %+v", s)
	}
}

func TestRead_Malformed(t *testing.T) {
	for _, blob := range []string{"not json", `[]`, `"str"`, `{"unrelated":true}`} {
		c := newTestCache(t, blob)
		if s := c.Read(); s != nil {
			t.Errorf("Read(%q): want nil, got %+v", blob, s)
		}
	}
}

func TestRead_Missing(t *testing.T) {
	c := newTestCache(t, "")
	if s := c.Read(); s != nil {
		t.Errorf("Read missing key: want nil, got %+v", s)
	}
}

func TestIdentity_ExpiryPlausibility(t *testing.T) {
	now := int64(1_700_000_000)
	cases := []struct {
		name  string
		blob  string
		valid bool
	}{
		{"future expiry", fmt.Sprintf(`{"access_token":"a","user":{"id":"u1"},"expires_at":%d}`, now+3600), true},
		{"absent expiry", `{"access_token":"a","user":{"id":"u1","email":"e@x.y"}}`, true},
		{"past expiry", fmt.Sprintf(`{"access_token":"a","user":{"id":"u1"},"expires_at":%d}`, now-60), false},
		{"negative expiry", `{"access_token":"a","user":{"id":"u1"},"expires_at":-5}`, false},
		{"zero expiry", `{"access_token":"a","user":{"id":"u1"},"expires_at":0}`, false},
		{"millisecond magnitude", fmt.Sprintf(`{"access_token":"a","user":{"id":"u1"},"expires_at":%d}`, (now+3600)*1000), false},
		{"no user", `{"access_token":"a"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCache(t, tc.blob)
			id := c.Identity()
			if tc.valid && id == nil {
				t.Error("Identity: want identity, got nil")
			}
			if !tc.valid && id != nil {
				t.Errorf("Identity: want nil, got %+v", id)
			}
		})
	}
}

func TestFullSession_RequiresAllParts(t *testing.T) {
	cases := []struct {
		name string
		blob string
		want bool
	}{
		{"complete", `{"access_token":"a","refresh_token":"r","user":{"id":"u1"}}`, true},
		{"complete but expired", `{"access_token":"a","refresh_token":"r","expires_at":5,"user":{"id":"u1"}}`, true},
		{"missing access token", `{"refresh_token":"r","user":{"id":"u1"}}`, false},
		{"missing refresh token", `{"access_token":"a","user":{"id":"u1"}}`, false},
		{"missing user", `{"access_token":"a","refresh_token":"r"}`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestCache(t, tc.blob)
			got := c.FullSession()
			if tc.want && got == nil {
				t.Error("FullSession: want session, got nil")
			}
			if !tc.want && got != nil {
				t.Errorf("FullSession: want nil, got %+v", got)
			}
		})
	}
}

func TestInvalidate(t *testing.T) {
	c := newTestCache(t, `{"access_token":"a","refresh_token":"r","user":{"id":"u1"}}`)
	if c.FullSession() == nil {
		t.Fatal("precondition: session should be readable")
	}
	c.Invalidate()
	if c.FullSession() != nil {
		t.Error("FullSession after Invalidate: want nil")
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	key := Key(testRef)
	if _, ok, err := store.Get(key); err != nil || ok {
		t.Fatalf("Get absent: ok=%v err=%v", ok, err)
	}
	if err := store.Set(key, []byte(`{"x":1}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := store.Get(key)
	if err != nil || !ok || string(v) != `{"x":1}` {
		t.Fatalf("Get: v=%q ok=%v err=%v", v, ok, err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(key); err != nil {
		t.Fatalf("Delete absent: %v", err)
	}
}
