package fakeapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestServer(t *testing.T, cfg Config) (*Server, *httptest.Server) {
	t.Helper()
	fake, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := fake.AddUser(User{Email: "a@b.com", Username: "a"}, "secret123"); err != nil {
		t.Fatalf("AddUser: %v", err)
	}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return fake, srv
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestPasswordHashRoundTrip(t *testing.T) {
	hash, err := hashPassword("secret123")
	if err != nil {
		t.Fatalf("hashPassword: %v", err)
	}
	ok, err := verifyPassword("secret123", hash)
	if err != nil || !ok {
		t.Fatalf("verify correct password: ok=%v err=%v", ok, err)
	}
	ok, err = verifyPassword("wrong", hash)
	if err != nil || ok {
		t.Fatalf("verify wrong password: ok=%v err=%v", ok, err)
	}
	if _, err := verifyPassword("x", "$bcrypt$nope"); err == nil {
		t.Fatal("expected error for foreign hash format")
	}
}

func TestRefreshTokenEncoding(t *testing.T) {
	sid, err := newSessionID()
	if err != nil {
		t.Fatalf("newSessionID: %v", err)
	}
	secret, _ := newRefreshSecret()
	token, err := encodeRefreshToken(sid, secret)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	gotSID, gotSecret, err := decodeRefreshToken(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if gotSID != sid || gotSecret != secret {
		t.Fatal("decoded refresh token does not match")
	}
	if _, _, err := decodeRefreshToken("short"); err == nil {
		t.Fatal("expected error for short token")
	}
}

func TestLoginRefreshRotation(t *testing.T) {
	fake, srv := newTestServer(t, Config{RotateRefresh: true})

	resp, body := postJSON(t, srv.URL+"/auth/login", map[string]string{"email": "a@b.com", "password": "secret123"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	r1, _ := body["refreshToken"].(string)

	resp, body = postJSON(t, srv.URL+"/auth/refresh", map[string]string{"refreshToken": r1})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("refresh status = %d", resp.StatusCode)
	}
	r2, _ := body["refreshToken"].(string)
	if r2 == "" || r2 == r1 {
		t.Fatalf("expected rotated refresh token, got %q", r2)
	}

	resp, _ = postJSON(t, srv.URL+"/auth/refresh", map[string]string{"refreshToken": r1})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("reused refresh token status = %d, want 401", resp.StatusCode)
	}
	if fake.Refreshes() != 2 {
		t.Fatalf("Refreshes = %d, want 2", fake.Refreshes())
	}
}

func TestLockout(t *testing.T) {
	_, srv := newTestServer(t, Config{LockoutThreshold: 2})

	bad := map[string]string{"email": "a@b.com", "password": "nope"}
	if resp, _ := postJSON(t, srv.URL+"/auth/login", bad); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("first failure status = %d", resp.StatusCode)
	}
	if resp, _ := postJSON(t, srv.URL+"/auth/login", bad); resp.StatusCode != http.StatusLocked {
		t.Fatalf("second failure status = %d, want 423", resp.StatusCode)
	}
	good := map[string]string{"email": "a@b.com", "password": "secret123"}
	if resp, _ := postJSON(t, srv.URL+"/auth/login", good); resp.StatusCode != http.StatusLocked {
		t.Fatalf("locked login status = %d, want 423", resp.StatusCode)
	}
}

func TestExpireAccessTokens(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	access, _, err := fake.Login("a@b.com")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}

	get := func() int {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/auth/profile", nil)
		req.Header.Set("Authorization", "Bearer "+access)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET profile: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if got := get(); got != http.StatusOK {
		t.Fatalf("profile status = %d", got)
	}
	fake.ExpireAccessTokens()
	if got := get(); got != http.StatusUnauthorized {
		t.Fatalf("profile after expiry status = %d, want 401", got)
	}
}

func TestDropConnections(t *testing.T) {
	fake, srv := newTestServer(t, Config{})
	fake.DropConnections("/dashboard/stats", 1)

	if _, err := http.Get(srv.URL + "/dashboard/stats"); err == nil {
		t.Fatal("expected transport error for dropped connection")
	}
	resp, err := http.Get(srv.URL + "/dashboard/stats")
	if err != nil {
		t.Fatalf("second GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
}
