package web

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"it8951ctl/internal/config"
	"it8951ctl/internal/it8951"
	"it8951ctl/internal/panel"
)

type fakePanel struct {
	calls   []string
	err     error
	vcom    int
	temp    it8951.Temperature
	tempN   int
	last    image.Image
	shownAt image.Point
}

func (f *fakePanel) record(s string) error {
	f.calls = append(f.calls, s)
	return f.err
}

func (f *fakePanel) Status() panel.Status {
	return panel.Status{Info: it8951.DeviceInfo{Width: 1872, Height: 1404, FirmwareVersion: "SWv_0.1.1"}}
}

func (f *fakePanel) Last() image.Image { return f.last }

func (f *fakePanel) Show(img image.Image, mode it8951.DisplayMode) error {
	f.shownAt = img.Bounds().Size()
	if err := f.record("Show " + mode.String()); err != nil {
		return err
	}
	f.last = img
	return nil
}

func (f *fakePanel) Clear(mode it8951.DisplayMode) error { return f.record("Clear " + mode.String()) }
func (f *fakePanel) Redraw() error                       { return f.record("Redraw") }
func (f *fakePanel) Sleep() error                        { return f.record("Sleep") }
func (f *fakePanel) Wake() error                         { return f.record("Wake") }

func (f *fakePanel) VCOM() (int, error) { return f.vcom, f.record("VCOM") }

func (f *fakePanel) SetVCOM(mV int, persist bool) (int, error) {
	if err := f.record(fmt.Sprintf("SetVCOM %d %t", mV, persist)); err != nil {
		return 0, err
	}
	f.vcom = mV
	return mV, nil
}

func (f *fakePanel) Temperature() (it8951.Temperature, error) {
	f.tempN++
	return f.temp, f.record("Temperature")
}

func (f *fakePanel) ForceTemperature(c int16) error {
	return f.record(fmt.Sprintf("ForceTemperature %d", c))
}

func (f *fakePanel) CancelForcedTemperature() error { return f.record("CancelForcedTemperature") }

func newTestServer(cfg *config.Config) (*Server, *fakePanel) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	fp := &fakePanel{vcom: -1580, temp: it8951.Temperature{Real: 24}}
	return NewServer(cfg, fp), fp
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func pngBody(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0x80
	}
	img.SetGray(0, 0, color.Gray{})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.String()
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := do(t, s.Handler(), "GET", "/health", "")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestDevice(t *testing.T) {
	s, _ := newTestServer(nil)
	rec := do(t, s.Handler(), "GET", "/api/device", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	var st panel.Status
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Info.Width != 1872 || st.Info.FirmwareVersion != "SWv_0.1.1" {
		t.Fatalf("status %+v", st)
	}
	if strings.Contains(rec.Body.String(), "last_update") {
		t.Fatalf("zero last_update serialized: %s", rec.Body.String())
	}
}

func TestVCOM(t *testing.T) {
	s, fp := newTestServer(nil)
	h := s.Handler()
	rec := do(t, h, "GET", "/api/vcom", "")
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"vcom_mv":-1580}` {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, "POST", "/api/vcom", `{"vcom_mv":-2000,"persist":true}`)
	if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"vcom_mv":-2000}` {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if got := fp.calls[len(fp.calls)-1]; got != "SetVCOM -2000 true" {
		t.Fatalf("last call %q", got)
	}
	rec = do(t, h, "POST", "/api/vcom", `{"vcom":-2000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}
}

func TestTemperatureCache(t *testing.T) {
	s, fp := newTestServer(nil)
	h := s.Handler()
	for n := 0; n < 3; n++ {
		rec := do(t, h, "GET", "/api/temperature", "")
		if rec.Code != http.StatusOK || strings.TrimSpace(rec.Body.String()) != `{"real":24,"forced":0}` {
			t.Fatalf("got %d %s", rec.Code, rec.Body.String())
		}
	}
	if fp.tempN != 1 {
		t.Fatalf("%d reads, want 1", fp.tempN)
	}
	if rec := do(t, h, "POST", "/api/temperature", `{"celsius":30}`); rec.Code != http.StatusNoContent {
		t.Fatalf("force status %d", rec.Code)
	}
	do(t, h, "GET", "/api/temperature", "")
	if fp.tempN != 2 {
		t.Fatalf("cache not invalidated, %d reads", fp.tempN)
	}
	if rec := do(t, h, "DELETE", "/api/temperature", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel status %d", rec.Code)
	}
	want := []string{"Temperature", "ForceTemperature 30", "Temperature", "CancelForcedTemperature"}
	if strings.Join(fp.calls, ",") != strings.Join(want, ",") {
		t.Fatalf("calls %v", fp.calls)
	}
}

func TestForceTemperatureValidation(t *testing.T) {
	s, fp := newTestServer(nil)
	for _, body := range []string{`{}`, `{"celsius":200}`, `{"celsius":-129}`, `nope`} {
		if rec := do(t, s.Handler(), "POST", "/api/temperature", body); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status %d", body, rec.Code)
		}
	}
	if len(fp.calls) != 0 {
		t.Fatalf("calls %v", fp.calls)
	}
}

func TestClear(t *testing.T) {
	s, fp := newTestServer(nil)
	h := s.Handler()
	if rec := do(t, h, "POST", "/api/clear", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/clear?mode=gc16", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if rec := do(t, h, "POST", "/api/clear?mode=bogus", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d", rec.Code)
	}
	if got := strings.Join(fp.calls, ","); got != "Clear INIT,Clear GC16" {
		t.Fatalf("calls %q", got)
	}
}

func TestImage(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.DisplayMode = "DU"
	s, fp := newTestServer(cfg)
	h := s.Handler()
	if rec := do(t, h, "POST", "/api/image", pngBody(t, 20, 10)); rec.Code != http.StatusNoContent {
		t.Fatalf("status %d %s", rec.Code, rec.Body.String())
	}
	if rec := do(t, h, "POST", "/api/image?mode=A2", pngBody(t, 4, 4)); rec.Code != http.StatusNoContent {
		t.Fatalf("status %d", rec.Code)
	}
	if got := strings.Join(fp.calls, ","); got != "Show DU,Show A2" {
		t.Fatalf("calls %q", got)
	}
	if rec := do(t, h, "POST", "/api/image", "not an image"); rec.Code != http.StatusBadRequest {
		t.Fatalf("garbage: status %d", rec.Code)
	}

	rec := do(t, h, "GET", "/preview.png", "")
	if rec.Code != http.StatusOK || rec.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("preview %d %q", rec.Code, rec.Header().Get("Content-Type"))
	}
	img, err := png.Decode(rec.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 4 {
		t.Fatalf("preview bounds %v", img.Bounds())
	}
}

func TestPreviewEmpty(t *testing.T) {
	s, _ := newTestServer(nil)
	if rec := do(t, s.Handler(), "GET", "/preview.png", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("status %d", rec.Code)
	}
}

func TestActions(t *testing.T) {
	s, fp := newTestServer(nil)
	h := s.Handler()
	for _, p := range []string{"/api/redraw", "/api/sleep", "/api/wake"} {
		if rec := do(t, h, "POST", p, ""); rec.Code != http.StatusNoContent {
			t.Errorf("%s: status %d", p, rec.Code)
		}
	}
	if got := strings.Join(fp.calls, ","); got != "Redraw,Sleep,Wake" {
		t.Fatalf("calls %q", got)
	}
	if rec := do(t, h, "GET", "/api/sleep", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET sleep: status %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	data := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("set vcom: %w", it8951.ErrInvalidValue), http.StatusBadRequest},
		{it8951.ErrOutOfBounds, http.StatusBadRequest},
		{it8951.ErrDeviceNotResponding, http.StatusGatewayTimeout},
		{it8951.ErrProtocol, http.StatusBadGateway},
	}
	for i, line := range data {
		s, fp := newTestServer(nil)
		fp.err = line.err
		rec := do(t, s.Handler(), "POST", "/api/redraw", "")
		if rec.Code != line.want {
			t.Errorf("#%d: status %d, want %d", i, rec.Code, line.want)
		}
		var resp map[string]string
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp["error"] == "" {
			t.Errorf("#%d: body %q", i, rec.Body.String())
		}
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _ := newTestServer(cfg)
	h := s.Handler()

	if rec := do(t, h, "GET", "/health", ""); rec.Code != http.StatusOK {
		t.Fatalf("health: status %d", rec.Code)
	}
	rec := do(t, h, "GET", "/api/device", "")
	if rec.Code != http.StatusUnauthorized || rec.Header().Get("WWW-Authenticate") == "" {
		t.Fatalf("no credentials: status %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/device", nil)
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad password: status %d", rec.Code)
	}

	req = httptest.NewRequest("GET", "/api/device", nil)
	req.SetBasicAuth("admin", "secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good credentials: status %d", rec.Code)
	}
}

func TestBasicAuthDisabledWhenIncomplete(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin"}
	s, _ := newTestServer(cfg)
	if rec := do(t, s.Handler(), "GET", "/api/device", ""); rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
}
