package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/deskbound/deskctl/pkg/config"
	"github.com/deskbound/deskctl/pkg/events"
	"github.com/deskbound/deskctl/pkg/motion"
)

// fakeDesk answers canned results and can block to simulate a long run.
type fakeDesk struct {
	mu sync.Mutex

	heightMM  int
	heightErr error

	moveOutcome motion.Outcome
	moveErr     error
	moveCalls   int
	lastTarget  int
	moveBlock   chan struct{} // when non-nil, MoveTo waits on it

	calResult *motion.CalibrationResult
	calErr    error
	calCalls  int
}

func (f *fakeDesk) MoveTo(ctx context.Context, targetMM int) (motion.Outcome, error) {
	f.mu.Lock()
	f.moveCalls++
	f.lastTarget = targetMM
	block := f.moveBlock
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}
	return f.moveOutcome, f.moveErr
}

func (f *fakeDesk) Calibrate(ctx context.Context, aroundMM, trials int) (*motion.CalibrationResult, error) {
	f.mu.Lock()
	f.calCalls++
	f.mu.Unlock()
	return f.calResult, f.calErr
}

func (f *fakeDesk) CurrentHeight(ctx context.Context) (int, error) {
	return f.heightMM, f.heightErr
}

type testConfig struct {
	*config.File
	path string
}

func newTestServer(t *testing.T, d *fakeDesk) (*Server, http.Handler, testConfig) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	conf, err := config.NewFile(path)
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	s := NewServer(conf, d, events.NewHub())
	return s, s.setupRoutes(), testConfig{File: conf, path: path}
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestGetHeight(t *testing.T) {
	_, h, _ := newTestServer(t, &fakeDesk{heightMM: 953})

	w := do(t, h, http.MethodGet, "/height", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["heightMM"] != 953 {
		t.Fatalf("expected heightMM 953, got %d", resp["heightMM"])
	}
}

func TestGetHeightUnavailable(t *testing.T) {
	_, h, _ := newTestServer(t, &fakeDesk{heightErr: context.DeadlineExceeded})

	w := do(t, h, http.MethodGet, "/height", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestMove(t *testing.T) {
	d := &fakeDesk{moveOutcome: motion.Outcome{Kind: motion.Reached, FinalHeightMM: 955}}
	_, h, _ := newTestServer(t, d)

	w := do(t, h, http.MethodPut, "/move", 955)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if d.lastTarget != 955 {
		t.Fatalf("expected target 955, got %d", d.lastTarget)
	}

	var resp moveResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Kind != "reached" || resp.FinalHeightMM != 955 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestMoveRejectsOutOfRange(t *testing.T) {
	d := &fakeDesk{}
	_, h, _ := newTestServer(t, d)

	// Default limits are 620..1270 mm.
	for _, target := range []int{0, 500, 2000} {
		w := do(t, h, http.MethodPut, "/move", target)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("target %d: expected 400, got %d", target, w.Code)
		}
	}
	if d.moveCalls != 0 {
		t.Fatalf("desk should not have been asked to move, got %d calls", d.moveCalls)
	}
}

func TestMoveBusy(t *testing.T) {
	block := make(chan struct{})
	d := &fakeDesk{
		moveOutcome: motion.Outcome{Kind: motion.Reached, FinalHeightMM: 720},
		moveBlock:   block,
	}
	_, h, _ := newTestServer(t, d)

	done := make(chan *httptest.ResponseRecorder)
	go func() { done <- do(t, h, http.MethodPut, "/move", 720) }()

	// Wait until the first request holds the run lock.
	deadline := time.After(2 * time.Second)
	for {
		d.mu.Lock()
		started := d.moveCalls > 0
		d.mu.Unlock()
		if started {
			break
		}
		select {
		case <-deadline:
			t.Fatal("first move never started")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	w := do(t, h, http.MethodPut, "/move", 1100)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while move in flight, got %d", w.Code)
	}

	close(block)
	if w := <-done; w.Code != http.StatusOK {
		t.Fatalf("first move: expected 200, got %d", w.Code)
	}
}

// Calibrating around a point whose trials would leave the desk's travel
// must be refused before the desk is asked to move. An absent aroundMM
// binds to zero and is the most dangerous case: trials would grind the
// desk into its bottom limit.
func TestCalibrateRejectsOutOfRange(t *testing.T) {
	d := &fakeDesk{calResult: &motion.CalibrationResult{}}
	_, h, _ := newTestServer(t, d)

	// Default limits are 620..1270 mm; trials start 50 mm to each side.
	for _, around := range []int{0, 600, 650, 1250} {
		w := do(t, h, http.MethodPost, "/calibrate", calibrateRequest{AroundMM: around, Trials: 2})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("aroundMM %d: expected 400, got %d", around, w.Code)
		}
	}
	if d.calCalls != 0 {
		t.Fatalf("desk should not have been asked to calibrate, got %d calls", d.calCalls)
	}
}

func TestCalibratePersists(t *testing.T) {
	d := &fakeDesk{
		calResult: &motion.CalibrationResult{
			AvgOvershootUpMM:   11.6,
			AvgOvershootDownMM: 7.2,
		},
	}
	_, h, conf := newTestServer(t, d)

	// A config file exists before persisting, so the save must leave a
	// backup of it behind.
	if err := conf.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	w := do(t, h, http.MethodPost, "/calibrate", calibrateRequest{AroundMM: 900, Trials: 2, Persist: true})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	backups, err := filepath.Glob(conf.path + ".*.bak")
	if err != nil {
		t.Fatalf("glob backups: %v", err)
	}
	if len(backups) == 0 {
		t.Error("persisting did not back up the existing config file")
	}

	tun := conf.Tuning()
	if tun.OvershootUpMM != 12 || tun.OvershootDownMM != 7 {
		t.Fatalf("expected persisted overshoots 12/7, got %d/%d", tun.OvershootUpMM, tun.OvershootDownMM)
	}

	// Persist writes through to disk.
	reloaded, err := config.NewFile(conf.path)
	if err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if got := reloaded.Tuning().OvershootUpMM; got != 12 {
		t.Fatalf("expected saved overshoot up 12, got %d", got)
	}
}

func TestSetTuningRejectsInvalid(t *testing.T) {
	_, h, _ := newTestServer(t, &fakeDesk{})

	bad := motion.DefaultTuning()
	bad.ToleranceMM = -1
	w := do(t, h, http.MethodPut, "/tuning", bad)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTuningRoundTrip(t *testing.T) {
	_, h, conf := newTestServer(t, &fakeDesk{})

	want := motion.DefaultTuning()
	want.OvershootUpMM = 15
	w := do(t, h, http.MethodPut, "/tuning", want)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := conf.Tuning(); got != want {
		t.Fatalf("expected stored tuning %+v, got %+v", want, got)
	}

	w = do(t, h, http.MethodGet, "/tuning", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var got motion.Tuning
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode tuning: %v", err)
	}
	if got != want {
		t.Fatalf("expected returned tuning %+v, got %+v", want, got)
	}
}

func TestGetPresets(t *testing.T) {
	_, h, _ := newTestServer(t, &fakeDesk{})

	w := do(t, h, http.MethodGet, "/presets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var presets map[string]float64
	if err := json.Unmarshal(w.Body.Bytes(), &presets); err != nil {
		t.Fatalf("decode presets: %v", err)
	}
	if presets["sit"] != 72 || presets["stand"] != 110 {
		t.Fatalf("expected default presets, got %v", presets)
	}
}
