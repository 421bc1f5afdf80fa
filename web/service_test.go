package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/afumu/barlens/internal/model"
	"github.com/afumu/barlens/internal/monitor"
	"github.com/afumu/barlens/internal/offsets"
	"github.com/afumu/barlens/internal/snapshot"
	"github.com/afumu/barlens/internal/worker"
	"github.com/afumu/barlens/store"
	"github.com/afumu/barlens/web/api"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type fakeWorker struct {
	restarts  atomic.Int32
	shutdowns atomic.Int32
	done      chan struct{}
}

func (f *fakeWorker) Status() worker.Status {
	return worker.Status{
		State:          worker.InGame,
		TicksPerSecond: 1,
		PID:            4242,
		SessionID:      "s1",
		Uptime:         2*time.Hour + 5*time.Minute,
	}
}

func (f *fakeWorker) RequestRestart() { f.restarts.Add(1) }

func (f *fakeWorker) Shutdown() <-chan struct{} {
	f.shutdowns.Add(1)
	return f.done
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type fixture struct {
	svc    *Service
	worker *fakeWorker
	board  *snapshot.Board
}

func newFixture(t *testing.T, s store.Store, hash string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := &fakeWorker{done: make(chan struct{})}
	board := snapshot.NewBoard()
	a := api.NewAPI(w, board, s, offsets.NewHolder(offsets.Default()), monitor.NewNotifier(""), &api.Config{
		OffsetsPath:  "offsets.json",
		PasswordHash: hash,
	})
	return &fixture{svc: NewService(a, &Config{ListenAddr: "127.0.0.1:0"}), worker: w, board: board}
}

func (f *fixture) do(t *testing.T, method, path, body string, header map[string]string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.svc.GetRouter().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, rec.Body.String())
		}
	}
	return rec, env
}

func TestStatus(t *testing.T) {
	f := newFixture(t, nil, "")
	rec, env := f.do(t, http.MethodGet, "/api/v1/status", "", nil)
	if rec.Code != http.StatusOK || !env.Success {
		t.Fatalf("status %d: %s", rec.Code, rec.Body.String())
	}
	var data map[string]any
	json.Unmarshal(env.Data, &data)
	if data["state"] != "in_game" {
		t.Errorf("state = %v", data["state"])
	}
	if data["pid"].(float64) != 4242 || data["session_id"] != "s1" {
		t.Errorf("data = %v", data)
	}
	if up, _ := data["uptime"].(string); !strings.Contains(up, "h") {
		t.Errorf("uptime = %q", up)
	}
	if data["history"] != false || data["webhook"] != false {
		t.Errorf("feature flags = %v", data)
	}
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t, nil, "")
	var rows snapshot.Rows
	rows[0] = snapshot.Row{Caption: "alice", Value: "1 2 3"}
	f.board.Publish(rows)

	_, env := f.do(t, http.MethodGet, "/api/v1/snapshot", "", nil)
	var data struct {
		Seq  uint64         `json:"seq"`
		Rows []snapshot.Row `json:"rows"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Seq != 1 || len(data.Rows) != snapshot.Slots || data.Rows[0] != rows[0] {
		t.Errorf("snapshot = %+v", data)
	}
}

func TestSnapshotStream(t *testing.T) {
	f := newFixture(t, nil, "")
	srv := httptest.NewServer(f.svc.GetRouter())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// headers are only flushed with the first event, so keep publishing
	// until the subscriber sees one
	go func() {
		for ctx.Err() == nil {
			f.board.Publish(snapshot.Rows{{Caption: "bob", Value: "6"}})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/snapshot/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer resp.Body.Close()

	buf := make([]byte, 512)
	var got strings.Builder
	for !strings.Contains(got.String(), "bob") {
		n, err := resp.Body.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			t.Fatalf("read stream: %v (%q)", err, got.String())
		}
	}
	if !strings.Contains(got.String(), "event:snapshot") {
		t.Errorf("stream = %q", got.String())
	}
}

func TestControl(t *testing.T) {
	f := newFixture(t, nil, "")
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/restart", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("restart: %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/shutdown", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("shutdown: %d", rec.Code)
	}
	if f.worker.restarts.Load() != 1 || f.worker.shutdowns.Load() != 1 {
		t.Errorf("restarts=%d shutdowns=%d", f.worker.restarts.Load(), f.worker.shutdowns.Load())
	}
}

func TestAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatal(err)
	}
	f := newFixture(t, nil, string(hash))

	if rec, _ := f.do(t, http.MethodGet, "/api/v1/status", "", nil); rec.Code != http.StatusOK {
		t.Errorf("reads must stay open, got %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/restart", "", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("restart without token: %d", rec.Code)
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/auth/verify", `{"password":"nope"}`, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: %d", rec.Code)
	}

	rec, env := f.do(t, http.MethodPost, "/api/v1/auth/verify", `{"password":"secret"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", rec.Code, rec.Body.String())
	}
	var data struct {
		Token string `json:"token"`
	}
	json.Unmarshal(env.Data, &data)
	if data.Token == "" {
		t.Fatal("no token issued")
	}

	if rec, _ := f.do(t, http.MethodPost, "/api/v1/restart", "", map[string]string{"X-Auth-Token": data.Token}); rec.Code != http.StatusOK {
		t.Errorf("restart with token: %d", rec.Code)
	}
	if f.worker.restarts.Load() != 1 {
		t.Errorf("restarts = %d", f.worker.restarts.Load())
	}
	if rec, _ := f.do(t, http.MethodPost, "/api/v1/shutdown", "", map[string]string{"X-Auth-Token": "forged"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("forged token: %d", rec.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	f := newFixture(t, nil, "")
	for _, path := range []string{"/api/v1/history/snapshots", "/api/v1/history/sessions", "/api/v1/history/export"} {
		if rec, _ := f.do(t, http.MethodGet, path, "", nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: %d", path, rec.Code)
		}
	}
}

func TestHistory(t *testing.T) {
	s, err := store.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()
	at := time.UnixMilli(1_700_000_000_000)
	s.BeginSession(ctx, "s1", at)
	s.RecordTransition(ctx, model.Transition{At: at, From: "menu", To: "in_game", SessionID: "s1"})
	s.RecordSnapshot(ctx, []model.SnapshotRow{{SessionID: "s1", TakenAt: at, Slot: 0, Caption: "alice", Value: "1"}})

	f := newFixture(t, s, "")

	_, env := f.do(t, http.MethodGet, "/api/v1/history/sessions?limit=5", "", nil)
	var sessions []model.Session
	json.Unmarshal(env.Data, &sessions)
	if len(sessions) != 1 || sessions[0].ID != "s1" || sessions[0].Snapshots != 1 {
		t.Errorf("sessions = %+v", sessions)
	}

	_, env = f.do(t, http.MethodGet, "/api/v1/history/snapshots?session_id=s1", "", nil)
	var rows []model.SnapshotRow
	json.Unmarshal(env.Data, &rows)
	if len(rows) != 1 || rows[0].Caption != "alice" {
		t.Errorf("snapshots = %+v", rows)
	}

	_, env = f.do(t, http.MethodGet, "/api/v1/history/transitions", "", nil)
	var trs []model.Transition
	json.Unmarshal(env.Data, &trs)
	if len(trs) != 1 || trs[0].To != "in_game" {
		t.Errorf("transitions = %+v", trs)
	}

	rec, _ := f.do(t, http.MethodGet, "/api/v1/history/export?format=csv", "", nil)
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/csv") {
		t.Errorf("csv export: %d %s", rec.Code, rec.Header().Get("Content-Type"))
	}
	if !strings.Contains(rec.Body.String(), "alice") {
		t.Errorf("csv body = %q", rec.Body.String())
	}
	if rec, _ := f.do(t, http.MethodGet, "/api/v1/history/export?format=pdf", "", nil); rec.Code != http.StatusBadRequest {
		t.Errorf("pdf export: %d", rec.Code)
	}
}

func TestOffsets(t *testing.T) {
	f := newFixture(t, nil, "")
	_, env := f.do(t, http.MethodGet, "/api/v1/offsets", "", nil)
	var data struct {
		Path  string        `json:"path"`
		Table offsets.Table `json:"table"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data.Path != "offsets.json" || data.Table.Version != offsets.Default().Version {
		t.Errorf("offsets = %+v", data)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t, nil, "")
	if err := f.svc.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
