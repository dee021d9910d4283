package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	repgo "github.com/replicate/replicate-go"

	"photoshopai/backend/internal/config"
	"photoshopai/backend/internal/credit"
	"photoshopai/backend/internal/gemini"
	"photoshopai/backend/internal/middleware"
	"photoshopai/backend/internal/provider"
	"photoshopai/backend/internal/store"
)

type fakeGemini struct {
	out   provider.Output
	err   error
	calls int
	model string
}

func (f *fakeGemini) GenerateImage(ctx context.Context, model, prompt string, images []gemini.InputImage) (provider.Output, error) {
	f.calls++
	f.model = model
	return f.out, f.err
}

type fakeReplicate struct {
	out   provider.Output
	err   error
	calls int
	model string
	input repgo.PredictionInput
}

func (f *fakeReplicate) Run(ctx context.Context, identifier string, input repgo.PredictionInput) (provider.Output, error) {
	f.calls++
	f.model = identifier
	f.input = input
	return f.out, f.err
}

func testConfig() *config.Config {
	return &config.Config{
		CostImage:    1,
		CostVideo:    5,
		FreeCredits:  5,
		MaxImageEdge: 512,
		ModelGhibli:  "test/ghibli",
		ModelVideo:   "test/video",
		ModelUpscale: "test/upscale",
	}
}

func newTestServer(t *testing.T) (*Server, *credit.Memory, *fakeGemini, *fakeReplicate) {
	t.Helper()
	mem := credit.NewMemory()
	inline, err := provider.FromInline("image/png", []byte{1, 2, 3})
	if err != nil {
		t.Fatal(err)
	}
	g := &fakeGemini{out: inline}
	rep := &fakeReplicate{}
	rep.out, _ = provider.FromURL("https://delivery.example/out.png")
	s := &Server{
		Ledger: mem,
		Gemini: g,
		Repl:   rep,
		Cfg:    testConfig(),
	}
	return s, mem, g, rep
}

func pngUpload(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func featureRequest(t *testing.T, path, deviceID, idemKey string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("image", "in.png")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(pngUpload(t))
	for k, v := range fields {
		mw.WriteField(k, v)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if deviceID != "" {
		req.AddCookie(&http.Cookie{Name: middleware.DeviceCookie, Value: deviceID})
	}
	if idemKey != "" {
		req.Header.Set("Idempotency-Key", idemKey)
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestHealth(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestFeatureRequiresAuth(t *testing.T) {
	s, mem, g, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, featureRequest(t, "/api/ghiblify", "", "", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if g.calls != 0 {
		t.Errorf("provider called %d times, want 0", g.calls)
	}
	if n := len(mem.Entries(store.DeviceKey("d1"))); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestFeatureInsufficientCredits(t *testing.T) {
	s, mem, g, _ := newTestServer(t)
	owner := store.DeviceKey("d1")
	mem.Create(owner, 0)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, featureRequest(t, "/api/ghiblify", "d1", "", nil))
	if rec.Code != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402: %s", rec.Code, rec.Body.String())
	}
	if g.calls != 0 {
		t.Errorf("provider called %d times, want 0", g.calls)
	}
	if bal, _ := mem.Balance(context.Background(), owner); bal != 0 {
		t.Errorf("balance = %d, want 0", bal)
	}
	if n := len(mem.Entries(owner)); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestFeatureDebitsAndReturnsOutput(t *testing.T) {
	s, mem, g, _ := newTestServer(t)
	owner := store.DeviceKey("d1")
	mem.Create(owner, 5)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, featureRequest(t, "/api/ghiblify", "d1", "k1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if url, _ := body["ghibliUrl"].(string); !strings.HasPrefix(url, "data:image/png;base64,") {
		t.Errorf("ghibliUrl = %q, want data URL", url)
	}
	if body["remainingCredits"].(float64) != 4 {
		t.Errorf("remainingCredits = %v, want 4", body["remainingCredits"])
	}
	if body["creditsUsed"].(float64) != 1 {
		t.Errorf("creditsUsed = %v, want 1", body["creditsUsed"])
	}
	if g.model != "test/ghibli" {
		t.Errorf("model = %q, want test/ghibli", g.model)
	}
	entries := mem.Entries(owner)
	if len(entries) != 1 || entries[0].Delta != -1 || entries[0].Reason != "spend:ghiblify" || entries[0].IdempotencyKey != "k1" {
		t.Errorf("unexpected ledger entries: %+v", entries)
	}
}

func TestFeatureIdempotentReplayChargesOnce(t *testing.T) {
	s, mem, _, _ := newTestServer(t)
	owner := store.DeviceKey("d1")
	mem.Create(owner, 5)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, featureRequest(t, "/api/ghiblify", "d1", "same-key", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("call %d status = %d: %s", i, rec.Code, rec.Body.String())
		}
		if got := decodeBody(t, rec)["remainingCredits"].(float64); got != 4 {
			t.Errorf("call %d remainingCredits = %v, want 4", i, got)
		}
	}
	if bal, _ := mem.Balance(context.Background(), owner); bal != 4 {
		t.Errorf("balance = %d, want 4", bal)
	}
	if n := len(mem.Entries(owner)); n != 1 {
		t.Errorf("ledger entries = %d, want 1", n)
	}
}

func TestFeatureRefundOnProviderFailure(t *testing.T) {
	s, mem, g, _ := newTestServer(t)
	g.err = provider.ErrNoOutput
	owner := store.DeviceKey("d1")
	mem.Create(owner, 5)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, featureRequest(t, "/api/ghiblify", "d1", "k1", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502: %s", rec.Code, rec.Body.String())
	}
	if bal, _ := mem.Balance(context.Background(), owner); bal != 5 {
		t.Errorf("balance = %d, want 5 after refund", bal)
	}
	entries := mem.Entries(owner)
	if len(entries) != 2 {
		t.Fatalf("ledger entries = %d, want debit+refund", len(entries))
	}
	refund := entries[1]
	if refund.Delta != 1 || refund.Reason != "refund:ghiblify" || refund.IdempotencyKey != "k1:refund" {
		t.Errorf("unexpected refund entry: %+v", refund)
	}
}

func TestPic2VidCostsMore(t *testing.T) {
	s, mem, _, rep := newTestServer(t)
	owner := store.DeviceKey("d1")
	mem.Create(owner, 5)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, featureRequest(t, "/api/pic2vid", "d1", "", map[string]string{"prompt": "slow zoom"}))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["creditsUsed"].(float64) != 5 {
		t.Errorf("creditsUsed = %v, want 5", body["creditsUsed"])
	}
	if body["remainingCredits"].(float64) != 0 {
		t.Errorf("remainingCredits = %v, want 0", body["remainingCredits"])
	}
	if rep.model != "test/video" {
		t.Errorf("model = %q, want test/video", rep.model)
	}
	if _, ok := rep.input["start_image"]; !ok {
		t.Error("replicate input missing start_image")
	}
}

func TestReplicateFeatureReturnsDeliveryURL(t *testing.T) {
	s, mem, _, rep := newTestServer(t)
	owner := store.DeviceKey("d1")
	mem.Create(owner, 5)

	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, featureRequest(t, "/api/upscale", "d1", "", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if url, _ := decodeBody(t, rec)["upscaledUrl"].(string); url != "https://delivery.example/out.png" {
		t.Errorf("upscaledUrl = %q", url)
	}
	if rep.model != "test/upscale" {
		t.Errorf("model = %q, want test/upscale", rep.model)
	}
}

func TestGetCreditsByDevice(t *testing.T) {
	s, mem, _, _ := newTestServer(t)
	mem.Create(store.DeviceKey("d1"), 5)

	req := httptest.NewRequest(http.MethodGet, "/api/credits", nil)
	req.AddCookie(&http.Cookie{Name: middleware.DeviceCookie, Value: "d1"})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["mode"] != "device" || body["credits"].(float64) != 5 {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestPostCreditsValidation(t *testing.T) {
	s, mem, _, _ := newTestServer(t)
	mem.Create(store.DeviceKey("d1"), 5)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"zero amount", `{"action":"add","amount":0}`, http.StatusBadRequest},
		{"negative amount", `{"action":"deduct","amount":-3}`, http.StatusBadRequest},
		{"unknown action", `{"action":"steal","amount":1}`, http.StatusBadRequest},
		{"overdraw", `{"action":"deduct","amount":99}`, http.StatusPaymentRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/credits", strings.NewReader(tc.body))
			req.AddCookie(&http.Cookie{Name: middleware.DeviceCookie, Value: "d1"})
			rec := httptest.NewRecorder()
			s.Routes().ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tc.want, rec.Body.String())
			}
		})
	}
	if bal, _ := mem.Balance(context.Background(), store.DeviceKey("d1")); bal != 5 {
		t.Errorf("balance = %d, want 5 (rejections must not mutate)", bal)
	}
}

func TestPostCreditsAddThenDeduct(t *testing.T) {
	s, mem, _, _ := newTestServer(t)
	owner := store.DeviceKey("d1")
	mem.Create(owner, 5)

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/credits", strings.NewReader(body))
		req.AddCookie(&http.Cookie{Name: middleware.DeviceCookie, Value: "d1"})
		rec := httptest.NewRecorder()
		s.Routes().ServeHTTP(rec, req)
		return rec
	}

	rec := post(`{"action":"add","amount":3}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["credits"].(float64) != 8 {
		t.Fatalf("add: status=%d body=%s", rec.Code, rec.Body.String())
	}
	rec = post(`{"action":"deduct","amount":2,"idempotencyKey":"d-1"}`)
	if rec.Code != http.StatusOK || decodeBody(t, rec)["credits"].(float64) != 6 {
		t.Fatalf("deduct: status=%d body=%s", rec.Code, rec.Body.String())
	}
	// replay of the same deduct is a no-op
	rec = post(`{"action":"deduct","amount":2,"idempotencyKey":"d-1"}`)
	body := decodeBody(t, rec)
	if body["credits"].(float64) != 6 || body["idempotent"] != true {
		t.Fatalf("replay: body=%s", rec.Body.String())
	}
}

func TestAdminRejectsDeviceOwners(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/admin/stats", nil)
	req.AddCookie(&http.Cookie{Name: middleware.DeviceCookie, Value: "d1"})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestCheckoutRequiresPaymentsAndUser(t *testing.T) {
	s, _, _, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/checkout", strings.NewReader(`{"pack":"small"}`))
	req.AddCookie(&http.Cookie{Name: middleware.DeviceCookie, Value: "d1"})
	rec := httptest.NewRecorder()
	s.Routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 when payments unconfigured", rec.Code)
	}
}
