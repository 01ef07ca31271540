package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"rujukan/cfg"
	"rujukan/svc/cache"
	"rujukan/svc/db"
	"rujukan/svc/svc"
)

func newTestServer(t *testing.T) (*httptest.Server, *http.Client) {
	t.Helper()
	store, err := db.OpenWithConfig(filepath.Join(t.TempDir(), "rujukan.db"), 4, 4, 5*time.Second)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	reveals, err := cache.NewLRU(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	c := &cfg.Cfg{
		Port:           "0",
		Environment:    "test",
		MaxPasteSize:   1024,
		RecentLimit:    10,
		ContextTimeout: 5 * time.Second,
		SessionTTL:     time.Hour,
		AllowedOrigins: []string{"https://allowed.example"},
	}
	p := svc.NewPaste(store, reveals, c)
	ts := httptest.NewServer(NewServer(c, p, store, nil))
	t.Cleanup(ts.Close)
	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return ts, client
}

func createPaste(t *testing.T, ts *httptest.Server, client *http.Client, body string) CreateResp {
	t.Helper()
	resp, err := client.Post(ts.URL+"/pastes", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create status = %d", resp.StatusCode)
	}
	var out CreateResp
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func getJSON(t *testing.T, client *http.Client, url string, v interface{}) int {
	t.Helper()
	resp, err := client.Get(url)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if v != nil && resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
			t.Fatal(err)
		}
	}
	return resp.StatusCode
}

func TestCreateAndGet(t *testing.T) {
	ts, client := newTestServer(t)
	created := createPaste(t, ts, client, `{"content":"hello world","title":"<b>Greeting</b>","expiration":"1d"}`)
	if created.ID == "" || created.DeleteToken == "" {
		t.Fatalf("incomplete create response: %+v", created)
	}
	if created.URL != "/pastes/"+created.ID {
		t.Errorf("url = %s", created.URL)
	}
	if created.ExpiresAt == nil {
		t.Error("1d paste should have expires_at")
	}

	var first PasteResp
	if code := getJSON(t, client, ts.URL+"/pastes/"+created.ID, &first); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if first.Content != "hello world" {
		t.Errorf("content = %q", first.Content)
	}
	if first.Title != "<b>Greeting</b>" {
		t.Errorf("title altered: %q", first.Title)
	}
	if first.DeleteToken != created.DeleteToken {
		t.Errorf("creator session should see token once, got %q", first.DeleteToken)
	}

	var second PasteResp
	getJSON(t, client, ts.URL+"/pastes/"+created.ID, &second)
	if second.DeleteToken != "" {
		t.Error("token revealed twice")
	}
}

func TestCreateDefaultsAndNever(t *testing.T) {
	ts, client := newTestServer(t)
	never := createPaste(t, ts, client, `{"content":"keep","expiration":"never"}`)
	if never.ExpiresAt != nil {
		t.Errorf("never paste has expires_at %v", never.ExpiresAt)
	}
	unknown := createPaste(t, ts, client, `{"content":"x","expiration":"bogus"}`)
	if unknown.ExpiresAt == nil {
		t.Fatal("unknown expiration should fall back to 7d")
	}
	d := time.Until(*unknown.ExpiresAt)
	if d < 6*24*time.Hour || d > 8*24*time.Hour {
		t.Errorf("fallback expiration %v, want about 7 days", d)
	}
}

func TestCreateRejects(t *testing.T) {
	ts, client := newTestServer(t)
	tests := []struct {
		name   string
		ctype  string
		body   string
		status int
	}{
		{"empty content", "application/json", `{"content":"   "}`, http.StatusBadRequest},
		{"bad json", "application/json", `{"content":`, http.StatusBadRequest},
		{"unknown field", "application/json", `{"content":"x","password":"p"}`, http.StatusBadRequest},
		{"too large", "application/json", `{"content":"` + strings.Repeat("a", 2000) + `"}`, http.StatusRequestEntityTooLarge},
		{"wrong content type", "text/plain", `hello`, http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := client.Post(ts.URL+"/pastes", tt.ctype, strings.NewReader(tt.body))
			if err != nil {
				t.Fatal(err)
			}
			resp.Body.Close()
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
		})
	}
}

func TestRaw(t *testing.T) {
	ts, client := newTestServer(t)
	created := createPaste(t, ts, client, `{"content":"line1\nline2"}`)
	resp, err := client.Get(ts.URL + "/pastes/" + created.ID + "/raw")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("content type = %s", ct)
	}
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if buf.String() != "line1\nline2" {
		t.Errorf("raw body = %q", buf.String())
	}
}

func TestRawPreservesBytes(t *testing.T) {
	ts, client := newTestServer(t)
	// Decomposed forms must come back decomposed; no normalisation on the way in.
	content := "cafe\u0301 A\u030a <b>&amp;</b>\r\n"
	title := "if a<b && c>d"
	body, err := json.Marshal(CreateReq{Content: content, Title: title})
	if err != nil {
		t.Fatal(err)
	}
	created := createPaste(t, ts, client, string(body))

	resp, err := client.Get(ts.URL + "/pastes/" + created.ID + "/raw")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var buf bytes.Buffer
	buf.ReadFrom(resp.Body)
	if !bytes.Equal(buf.Bytes(), []byte(content)) {
		t.Errorf("raw body = %q, want %q", buf.String(), content)
	}

	var got PasteResp
	if code := getJSON(t, client, ts.URL+"/pastes/"+created.ID, &got); code != http.StatusOK {
		t.Fatalf("get status = %d", code)
	}
	if got.Title != title {
		t.Errorf("title = %q, want %q", got.Title, title)
	}
	if got.Content != content {
		t.Errorf("content = %q, want %q", got.Content, content)
	}
}

func TestCreateFoldsExpirationKey(t *testing.T) {
	ts, client := newTestServer(t)
	created := createPaste(t, ts, client, `{"content":"x","expiration":" \uff11\uff24 "}`)
	if created.ExpiresAt == nil {
		t.Fatal("fullwidth 1d should select a preset")
	}
	d := time.Until(*created.ExpiresAt)
	if d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("expiration %v, want about 1 day", d)
	}
	never := createPaste(t, ts, client, `{"content":"x","expiration":"NEVER"}`)
	if never.ExpiresAt != nil {
		t.Errorf("NEVER paste has expires_at %v", never.ExpiresAt)
	}
}

func TestNotFound(t *testing.T) {
	ts, client := newTestServer(t)
	for _, path := range []string{"/pastes/missing", "/pastes/missing/raw"} {
		if code := getJSON(t, client, ts.URL+path, nil); code != http.StatusNotFound {
			t.Errorf("%s status = %d", path, code)
		}
	}
}

func TestDeleteRoutes(t *testing.T) {
	ts, client := newTestServer(t)
	a := createPaste(t, ts, client, `{"content":"a"}`)
	b := createPaste(t, ts, client, `{"content":"b"}`)

	resp, _ := client.Post(ts.URL+"/pastes/"+a.ID+"/delete/wrong", "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("wrong token status = %d", resp.StatusCode)
	}
	resp, _ = client.Post(ts.URL+"/pastes/nope/delete/"+a.DeleteToken, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("missing paste status = %d, want the same 403", resp.StatusCode)
	}
	resp, _ = client.Post(ts.URL+"/pastes/"+a.ID+"/delete/"+a.DeleteToken, "", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d", resp.StatusCode)
	}
	if code := getJSON(t, client, ts.URL+"/pastes/"+a.ID, nil); code != http.StatusNotFound {
		t.Errorf("deleted paste status = %d", code)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/pastes/"+b.ID, nil)
	resp, _ = client.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("missing header status = %d", resp.StatusCode)
	}
	req, _ = http.NewRequest(http.MethodDelete, ts.URL+"/pastes/"+b.ID, nil)
	req.Header.Set("X-Delete-Token", b.DeleteToken)
	resp, _ = client.Do(req)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("header delete status = %d", resp.StatusCode)
	}
}

func TestRevealTokenLink(t *testing.T) {
	ts, creator := newTestServer(t)
	created := createPaste(t, ts, creator, `{"content":"shared"}`)

	jar, _ := cookiejar.New(nil)
	other := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	var view PasteResp
	getJSON(t, other, ts.URL+"/pastes/"+created.ID, &view)
	if view.DeleteToken != "" {
		t.Fatal("stranger saw delete token")
	}
	resp, err := other.Get(ts.URL + "/pastes/" + created.ID + "/token/" + created.DeleteToken)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusSeeOther {
		t.Fatalf("reveal status = %d", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/pastes/"+created.ID {
		t.Errorf("location = %s", loc)
	}
	getJSON(t, other, ts.URL+"/pastes/"+created.ID, &view)
	if view.DeleteToken != created.DeleteToken {
		t.Errorf("token after reveal link = %q", view.DeleteToken)
	}

	resp, _ = other.Get(ts.URL + "/pastes/missing/token/" + created.DeleteToken)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("reveal for missing paste status = %d", resp.StatusCode)
	}
}

func TestListRecent(t *testing.T) {
	ts, client := newTestServer(t)
	createPaste(t, ts, client, `{"content":"one","title":"first"}`)
	createPaste(t, ts, client, `{"content":"two","title":"second"}`)
	var out []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
	}
	if code := getJSON(t, client, ts.URL+"/pastes?limit=1", &out); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if len(out) != 1 {
		t.Errorf("len = %d, want 1", len(out))
	}
	if code := getJSON(t, client, ts.URL+"/pastes?limit=abc", nil); code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d", code)
	}
}

func TestExpirationsAndHealth(t *testing.T) {
	ts, client := newTestServer(t)
	var exp ExpirationsResp
	if code := getJSON(t, client, ts.URL+"/config/expirations", &exp); code != http.StatusOK {
		t.Fatalf("status = %d", code)
	}
	if exp.Default != "7d" || len(exp.Expirations) != 8 || exp.Expirations[7].Key != "never" {
		t.Errorf("unexpected expirations: %+v", exp)
	}
	var ready ReadyResponse
	if code := getJSON(t, client, ts.URL+"/ready", &ready); code != http.StatusOK {
		t.Fatalf("ready status = %d", code)
	}
	if ready.Database != "up" || ready.Reveals != "local" {
		t.Errorf("ready = %+v", ready)
	}
	if code := getJSON(t, client, ts.URL+"/health", nil); code != http.StatusOK {
		t.Errorf("health status = %d", code)
	}
}

func TestSessionCookieAndCORS(t *testing.T) {
	ts, _ := newTestServer(t)
	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/config/expirations", nil)
	req.Header.Set("Origin", "https://allowed.example")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "https://allowed.example" {
		t.Errorf("allow origin = %q", got)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID")
	}
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == SessionCookie {
			session = c
		}
	}
	if session == nil || !session.HttpOnly {
		t.Fatalf("session cookie missing or not HttpOnly: %+v", session)
	}

	req, _ = http.NewRequest(http.MethodGet, ts.URL+"/config/expirations", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, _ = http.DefaultClient.Do(req)
	resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("disallowed origin got CORS header %q", got)
	}
}

func TestSanitizeTitle(t *testing.T) {
	tests := map[string]string{
		"":                       "",
		"plain":                  "plain",
		"<script>x</script>safe": "<script>x</script>safe",
		"if a<b && c>d":          "if a<b && c>d",
		"a<b>c":                  "a<b>c",
		"Tom &amp; Jerry":        "Tom &amp; Jerry",
		"  spaced\x07 ":          "spaced",
		"tab\tnew\nline":         "tabnewline",
		"e\u0301":                "e\u0301",
		"bad\xffutf8":            "badutf8",
	}
	for in, want := range tests {
		if got := sanitizeTitle(in); got != want {
			t.Errorf("sanitizeTitle(%q) = %q, want %q", in, got, want)
		}
	}
}
