package server

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"statusline/internal/db"
	"statusline/internal/directory"
	"statusline/internal/domain"
	"statusline/internal/engine"
	"statusline/internal/interpret"
	"statusline/internal/migrate"
	"statusline/internal/repo"
	"statusline/internal/writer"
)

const (
	testToken  = "twilio-test-token"
	testSecret = "bot-secret"
)

var testNow = time.Date(2026, 10, 15, 8, 30, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

type memoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memoryDeduper) AcquireOnce(_ context.Context, id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false
	}
	d.seen[id] = true
	return true
}

func newTestServer(t *testing.T, mutate func(*Config)) (*testServer, func()) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	ctx := context.Background()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.InsertMember(ctx, domain.Member{ID: "m1", DisplayName: "Ada", ChannelAddress: "+15550001", CreatedAt: "x"}); err != nil {
		t.Fatal(err)
	}
	due := "2026-10-16"
	for _, task := range []domain.Task{
		{ID: "t1", Title: "Write report", DueDate: &due, Status: domain.StatusInProgress},
		{ID: "t2", Title: "Review deck"},
	} {
		task.OwnerID, task.WeekKey, task.CreatedAt = "m1", "2026-W42", "x"
		if err := r.InsertTask(ctx, task); err != nil {
			t.Fatal(err)
		}
	}
	in := interpret.New(interpret.RuleScorer{}, nil)
	in.Now = func() time.Time { return testNow }
	w := writer.New(r)
	w.Now = func() time.Time { return testNow }
	e := engine.New(directory.New(r), in, w, nil)
	e.Now = func() time.Time { return testNow }

	cfg := Config{
		Engine:        e,
		BasePath:      "/api",
		Twilio:        TwilioAuth{AuthToken: testToken},
		TriggerSecret: testSecret,
		Deduper:       &memoryDeduper{seen: map[string]bool{}},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	handler, err := New(cfg)
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, client, req)
}

func send(t *testing.T, client *http.Client, req *http.Request) (*http.Response, []byte) {
	t.Helper()
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

// sign computes the webhook signature: HMAC-SHA1 over the URL followed by
// the sorted form keys and values, base64 encoded.
func sign(token, fullURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(form.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func postForm(t *testing.T, client *http.Client, target string, form url.Values, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, target, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return send(t, client, req)
}

type twimlResponse struct {
	XMLName  xml.Name `xml:"Response"`
	Messages []struct {
		Text string `xml:",chardata"`
		Body string `xml:"Body"`
	} `xml:"Message"`
}

func replies(t *testing.T, data []byte) []string {
	t.Helper()
	var doc twimlResponse
	if err := xml.Unmarshal(data, &doc); err != nil {
		t.Fatalf("decode twiml %s: %v", data, err)
	}
	out := make([]string, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		text := strings.TrimSpace(m.Text)
		if text == "" {
			text = strings.TrimSpace(m.Body)
		}
		out = append(out, text)
	}
	return out
}

func inboundForm(body, sid string) url.Values {
	return url.Values{"From": {"whatsapp:+15550001"}, "Body": {body}, "MessageSid": {sid}}
}

func TestInboundSignedUpdate(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	target := srv.URL + "/api/twilio/inbound"
	form := inboundForm("A done", "SM1")
	res, data := postForm(t, srv.Client(), target, form, map[string]string{signatureHeader: sign(testToken, target, form)})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if ct := res.Header.Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("content type %q", ct)
	}
	if got := replies(t, data); len(got) != 1 || got[0] != engine.ReplyDone {
		t.Fatalf("replies: %v", got)
	}
	task, err := srv.Repo.GetTask(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if task.Status != domain.StatusDone || task.Progress == nil || *task.Progress != 100 {
		t.Fatalf("task not updated: %+v", task)
	}
}

func TestInboundRejectsBadSignature(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	target := srv.URL + "/api/twilio/inbound"
	form := inboundForm("A done", "SM1")
	for name, headers := range map[string]map[string]string{
		"wrong":   {signatureHeader: sign("other-token", target, form)},
		"missing": nil,
	} {
		res, data := postForm(t, srv.Client(), target, form, headers)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("%s: expected 403, got %d %s", name, res.StatusCode, data)
		}
		var env struct {
			Error apiErrorBody `json:"error"`
		}
		if err := json.Unmarshal(data, &env); err != nil || env.Error.Code != "forbidden" {
			t.Fatalf("%s: envelope %s", name, data)
		}
	}
	task, _ := srv.Repo.GetTask(context.Background(), "t1")
	if task.LastUpdate != nil {
		t.Fatalf("rejected request mutated store")
	}
}

func TestInboundForwardedURL(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	form := inboundForm("B 40%", "SM2")
	sig := sign(testToken, "https://bot.example.com/api/twilio/inbound", form)
	res, data := postForm(t, srv.Client(), srv.URL+"/api/twilio/inbound", form, map[string]string{
		signatureHeader:     sig,
		"X-Forwarded-Proto": "https",
		"X-Forwarded-Host":  "bot.example.com",
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if got := replies(t, data); len(got) != 1 || got[0] != engine.ReplyUpdated {
		t.Fatalf("replies: %v", got)
	}
}

func TestInboundPublicURL(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.PublicURL = "https://public.example.com/" })
	defer cleanup()

	form := inboundForm("", "SM3")
	sig := sign(testToken, "https://public.example.com/api/twilio/inbound", form)
	res, data := postForm(t, srv.Client(), srv.URL+"/api/twilio/inbound", form, map[string]string{signatureHeader: sig})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if got := replies(t, data); len(got) != 1 || got[0] != engine.ReplyUsage {
		t.Fatalf("replies: %v", got)
	}
}

func TestInboundAllowUnsigned(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.Twilio = TwilioAuth{AllowUnsigned: true} })
	defer cleanup()

	res, data := postForm(t, srv.Client(), srv.URL+"/api/twilio/inbound", url.Values{"From": {"+19990000"}, "Body": {"done"}}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	if got := replies(t, data); len(got) != 1 || got[0] != engine.ReplyUnknownMember {
		t.Fatalf("replies: %v", got)
	}
}

func TestNewRequiresTokenUnlessUnsigned(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatalf("expected error without auth token")
	}
}

func TestInboundRedeliverySkipped(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()

	target := srv.URL + "/api/twilio/inbound"
	form := inboundForm("A done", "SM9")
	headers := map[string]string{signatureHeader: sign(testToken, target, form)}
	if res, data := postForm(t, srv.Client(), target, form, headers); res.StatusCode != http.StatusOK {
		t.Fatalf("first: %d %s", res.StatusCode, data)
	}
	res, data := postForm(t, srv.Client(), target, form, headers)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("second: %d %s", res.StatusCode, data)
	}
	if got := replies(t, data); len(got) != 0 {
		t.Fatalf("redelivery should get an empty response, got %v", got)
	}
	task, _ := srv.Repo.GetTask(context.Background(), "t1")
	if strings.Count(task.UpdateLog, "\n") != 0 {
		t.Fatalf("update applied twice: %q", task.UpdateLog)
	}
}

func TestSendWeekly(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()
	target := srv.URL + "/api/jobs/send_weekly"

	res, data := doJSON(t, client, http.MethodPost, target, map[string]any{"to": "+15550001"}, map[string]string{triggerSecretHeader: testSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	var out SendWeeklyResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.Tasks == nil || *out.Tasks != 2 {
		t.Fatalf("response: %s", data)
	}
	if !strings.HasPrefix(out.PreviewMessage, "Your tasks for 2026-W42:\nA) Write report (Due 2026-10-16)\nB) Review deck\n") {
		t.Fatalf("preview:\n%s", out.PreviewMessage)
	}

	res, data = doJSON(t, client, http.MethodPost, target, map[string]any{"to": "+15550001", "week": "2026-W41"}, map[string]string{triggerSecretHeader: testSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	out = SendWeeklyResponse{}
	_ = json.Unmarshal(data, &out)
	if !out.OK || out.Tasks == nil || *out.Tasks != 0 {
		t.Fatalf("other week: %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, target, map[string]any{"to": "+10000000"}, map[string]string{triggerSecretHeader: testSecret})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d: %s", res.StatusCode, data)
	}
	out = SendWeeklyResponse{}
	_ = json.Unmarshal(data, &out)
	if out.OK || out.Error != "Member not found in team directory" {
		t.Fatalf("unknown member: %s", data)
	}

	res, data = doJSON(t, client, http.MethodPost, target, map[string]any{"to": "+15550001", "week": "week 42"}, map[string]string{triggerSecretHeader: testSecret})
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad week: %d %s", res.StatusCode, data)
	}
}

func TestSendWeeklySecret(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	target := srv.URL + "/api/jobs/send_weekly"
	for _, headers := range []map[string]string{nil, {triggerSecretHeader: "nope"}} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, target, map[string]any{"to": "+15550001"}, headers)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
		}
	}
}

func TestSendWeeklySecretCheckedBeforeBody(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	target := srv.URL + "/api/jobs/send_weekly"
	for _, body := range []any{map[string]any{}, map[string]any{"to": ""}, nil} {
		res, data := doJSON(t, srv.Client(), http.MethodPost, target, body, nil)
		if res.StatusCode != http.StatusForbidden {
			t.Fatalf("body %v: expected 403, got %d %s", body, res.StatusCode, data)
		}
		if !strings.Contains(string(data), `"forbidden"`) {
			t.Fatalf("expected error envelope, got %s", data)
		}
	}
}

func TestOpenAPIConcurrentFirstLoad(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	var wg sync.WaitGroup
	bodies := make([]string, 8)
	for i := range bodies {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodGet, srv.URL+"/api/openapi.json", nil)
			if err != nil {
				t.Error(err)
				return
			}
			res, err := srv.Client().Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			defer res.Body.Close()
			data, _ := io.ReadAll(res.Body)
			bodies[i] = string(data)
		}(i)
	}
	wg.Wait()
	for i, b := range bodies {
		if b == "" || b != bodies[0] {
			t.Fatalf("response %d differs or is empty", i)
		}
	}
}

func TestSendWeeklyEmptySecretRejectsAll(t *testing.T) {
	srv, cleanup := newTestServer(t, func(c *Config) { c.TriggerSecret = "" })
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/api/jobs/send_weekly", map[string]any{"to": "+15550001"},
		map[string]string{triggerSecretHeader: ""})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, data)
	}
}

func TestHealthMetricsDocs(t *testing.T) {
	srv, cleanup := newTestServer(t, nil)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/api/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health %d: %s", res.StatusCode, data)
	}
	var health HealthResponse
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatal(err)
	}
	if !health.OK || health.Week != "2026-W42" || health.TS != "2026-10-15T08:30:00Z" {
		t.Fatalf("health: %s", data)
	}
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("missing request id header")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "go_goroutines") {
		t.Fatalf("metrics %d", res.StatusCode)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/api/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK || !strings.Contains(string(data), "/api/jobs/send_weekly") || !strings.Contains(string(data), "botSecret") {
		t.Fatalf("openapi %d: %s", res.StatusCode, data)
	}

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/docs", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("docs %d", res.StatusCode)
	}
}
