package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

func testRouter(t *testing.T) http.Handler {
	t.Helper()
	g := New(bytes.NewReader(concat(tempFrame, rockerFrame, teachInFrame)), testRegistry(t), testDirectory(t))
	if err := g.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return NewRouter(g, BuildInfo{Version: "1.0.0", BuildDate: "2024-01-01"})
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestRouterStatus(t *testing.T) {
	h := testRouter(t)
	tests := []struct {
		path string
		want int
	}{
		{"/version", http.StatusOK},
		{"/profiles", http.StatusOK},
		{"/profiles/A5-02-05", http.StatusOK},
		{"/profiles/a5-02-05", http.StatusOK},
		{"/profiles/A5-99-99", http.StatusNotFound},
		{"/profiles/temperature", http.StatusBadRequest},
		{"/devices", http.StatusOK},
		{"/records", http.StatusOK},
		{"/records/01825dab", http.StatusOK},
		{"/records/0badbeef", http.StatusNotFound},
		{"/records/xyz", http.StatusBadRequest},
		{"/announcements", http.StatusOK},
		{"/gateway", http.StatusOK},
		{"/metrics", http.StatusOK},
		{"/health", http.StatusOK},
		{"/nowhere", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if rr := get(t, h, tt.path); rr.Code != tt.want {
				t.Errorf("GET %s = %d, want %d: %s", tt.path, rr.Code, tt.want, rr.Body)
			}
		})
	}
}

func TestRouterProfiles(t *testing.T) {
	h := testRouter(t)

	var summaries []profileSummary
	if err := json.Unmarshal(get(t, h, "/profiles").Body.Bytes(), &summaries); err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 7 {
		t.Fatalf("got %d profiles, want 7", len(summaries))
	}
	if summaries[0].EEP.String() != "A5-02-05" {
		t.Errorf("first profile = %v, want ordered by id", summaries[0].EEP)
	}

	var p struct {
		EEP    eep.ID `json:"eep"`
		Fields []struct {
			Shortcut string `json:"shortcut"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(get(t, h, "/profiles/F6-02-01").Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	if p.EEP.RORG != eep.RPS || len(p.Fields) != 4 || p.Fields[0].Shortcut != "R1" {
		t.Errorf("profile = %+v", p)
	}
}

func TestRouterRecords(t *testing.T) {
	h := testRouter(t)

	var records []eep.Record
	if err := json.Unmarshal(get(t, h, "/records").Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].Sender != 0x002989b0 {
		t.Fatalf("records = %+v", records)
	}

	var rec struct {
		Sender esp3.SenderID          `json:"sender"`
		Values map[string]interface{} `json:"values"`
		Device DeviceStatus           `json:"device"`
	}
	if err := json.Unmarshal(get(t, h, "/records/01825dab").Body.Bytes(), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Sender != 0x01825dab || rec.Values["TMP"] == nil {
		t.Errorf("record = %+v", rec)
	}
	if rec.Device.Telegrams != 2 || rec.Device.DBm != -68 || time.Since(rec.Device.LastSeen) > time.Minute {
		t.Errorf("device = %+v", rec.Device)
	}

	var announcements []eep.Announcement
	if err := json.Unmarshal(get(t, h, "/announcements").Body.Bytes(), &announcements); err != nil {
		t.Fatal(err)
	}
	if len(announcements) != 1 || announcements[0].EEP.String() != "A5-02-05" {
		t.Errorf("announcements = %+v", announcements)
	}
}

func TestRouterMetricsAndHealth(t *testing.T) {
	h := testRouter(t)
	body := get(t, h, "/metrics").Body.String()
	for _, want := range []string{
		"enocean_frames_total 3",
		`enocean_records_total{eep="A5-02-05"} 1`,
		`enocean_packets_total{type="RADIO_ERP1"} 3`,
		"enocean_announcements_total 1",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics lack %q", want)
		}
	}
	if body := get(t, h, "/health").Body.String(); body != "OK" {
		t.Errorf("health = %q", body)
	}
}

type memoryHistory struct {
	recordingSink
}

func (m *memoryHistory) History(ctx context.Context, sender esp3.SenderID, n int64) ([]eep.Record, error) {
	var res []eep.Record
	for i := len(m.records) - 1; i >= 0 && int64(len(res)) < n; i-- {
		if m.records[i].Sender == sender {
			res = append(res, m.records[i])
		}
	}
	return res, nil
}

func TestRouterHistory(t *testing.T) {
	g := New(bytes.NewReader(concat(tempFrame, rockerFrame, tempFrame)), testRegistry(t), testDirectory(t))
	store := &memoryHistory{}
	g.Sinks = []Sink{LogSink{}, store}
	if err := g.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	h := NewRouter(g, BuildInfo{})

	var records []eep.Record
	if err := json.Unmarshal(get(t, h, "/records/01825dab/history").Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 || records[0].ID == records[1].ID {
		t.Errorf("history = %+v", records)
	}
	if err := json.Unmarshal(get(t, h, "/records/01825dab/history?n=1").Body.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Errorf("got %d records, want 1", len(records))
	}
	if rr := get(t, h, "/records/01825dab/history?n=0"); rr.Code != http.StatusBadRequest {
		t.Errorf("n=0 gave %d", rr.Code)
	}

	// Without a store
	if rr := get(t, testRouter(t), "/records/01825dab/history"); rr.Code != http.StatusNotFound {
		t.Errorf("without store gave %d", rr.Code)
	}
}

func TestStateAnnouncementLimit(t *testing.T) {
	s := NewState()
	for i := 0; i < maxAnnouncements+10; i++ {
		s.announce(eep.Announcement{Sender: esp3.SenderID(i)})
	}
	a := s.Announcements()
	if len(a) != maxAnnouncements {
		t.Fatalf("kept %d announcements, want %d", len(a), maxAnnouncements)
	}
	if a[0].Sender != 10 || a[len(a)-1].Sender != maxAnnouncements+9 {
		t.Errorf("kept %v .. %v", a[0].Sender, a[len(a)-1].Sender)
	}
}

func TestRecordKey(t *testing.T) {
	if got := recordKey(0x01825dab); got != "enocean:01825dab:records" {
		t.Errorf("recordKey() = %q", got)
	}
	s := &RedisSink{channel: "enocean"}
	if got := s.teachInChannel(); got != "enocean:teach_in" {
		t.Errorf("teachInChannel() = %q", got)
	}
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
	return rr
}

func TestRouterCommand(t *testing.T) {
	version, ok, notSupported := versionResponse(t), response(t, esp3.RetOK), response(t, esp3.RetNotSupported)
	stop := make(chan struct{})
	m, conn := newModule(t)
	go func() {
		defer m.conn.Close()
		if !m.expect(8) {
			return
		}
		m.conn.Write(idBaseResponse)
		if !m.expect(8) {
			return
		}
		m.conn.Write(version)
		for _, answer := range [][]byte{ok, notSupported, nil} {
			if !m.expect(24) {
				return
			}
			if answer != nil {
				m.conn.Write(answer)
			}
		}
		<-stop
	}()
	defer conn.Close()
	defer close(stop)

	dir := testDirectory(t)
	dir[0x0199aabb] = eep.ID{RORG: eep.BS4, Func: 0x38, Type: 0x08}
	g := New(conn, testRegistry(t), dir)
	g.ResponseTimeout = 100 * time.Millisecond
	h := NewRouter(g, BuildInfo{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runErr := make(chan error, 1)
	go func() { runErr <- g.Run(ctx) }()

	for deadline := time.Now().Add(2 * time.Second); g.State.Info().Version == nil; time.Sleep(5 * time.Millisecond) {
		if time.Now().After(deadline) {
			t.Fatal("module queries were not answered")
		}
	}

	tests := []struct {
		name   string
		sender string
		body   string
		want   int
	}{
		{"bad sender", "xyz", `{}`, http.StatusBadRequest},
		{"bad body", "0199aabb", `{"SW":`, http.StatusBadRequest},
		{"unknown device", "0badbeef", `{"SW": true}`, http.StatusNotFound},
		{"unknown field", "0199aabb", `{"DIM": 50}`, http.StatusBadRequest},
		{"unmapped label", "0199aabb", `{"COM": "dimming"}`, http.StatusBadRequest},
		{"accepted", "0199aabb", `{"COM": "switching", "TIM": 12.5, "SW": true}`, http.StatusOK},
		{"rejected", "0199aabb", `{"COM": "switching", "SW": false}`, http.StatusBadGateway},
		{"no answer", "0199aabb", `{"COM": "switching", "SW": true}`, http.StatusGatewayTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := post(t, h, "/devices/"+tt.sender+"/command", tt.body); rr.Code != tt.want {
				t.Errorf("POST = %d, want %d: %s", rr.Code, tt.want, rr.Body)
			}
		})
	}

	cancel()
	if err := <-runErr; err != context.Canceled {
		t.Errorf("Run() error = %v", err)
	}

	// COM 1, TIM 125 tenths, SW and the LRN bit for data in DB0
	accepted, _ := esp3.NewRadioTelegram(0xa5, []byte{0x01, 0x00, 0x7d, 0x09}, 0xff9b1a80, 0x0199aabb, 0).MarshalBinary()
	switchOff, _ := esp3.NewRadioTelegram(0xa5, []byte{0x01, 0x00, 0x00, 0x08}, 0xff9b1a80, 0x0199aabb, 0).MarshalBinary()
	switchOn, _ := esp3.NewRadioTelegram(0xa5, []byte{0x01, 0x00, 0x00, 0x09}, 0xff9b1a80, 0x0199aabb, 0).MarshalBinary()
	m.received(idBaseCommand, versionCommand, accepted, switchOff, switchOn)
	if g.inflight != nil || len(g.queue) != 0 {
		t.Errorf("commands left over: inflight %v, queue %d", g.inflight, len(g.queue))
	}
}

func TestRouterCommandWithoutBaseID(t *testing.T) {
	dir := testDirectory(t)
	dir[0x0199aabb] = eep.ID{RORG: eep.BS4, Func: 0x38, Type: 0x08}
	g := New(bytes.NewReader(nil), testRegistry(t), dir)
	if err := g.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	rr := post(t, NewRouter(g, BuildInfo{}), "/devices/0199aabb/command", `{"SW": true}`)
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("POST = %d, want 503: %s", rr.Code, rr.Body)
	}
	if err := g.Send(context.Background(), esp3.ReadIDBase()); err != ErrReadOnly {
		t.Errorf("Send() error = %v, want ErrReadOnly", err)
	}
}
