package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// BuildInfo is reported by /version
type BuildInfo struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
}

type profileSummary struct {
	EEP    eep.ID `json:"eep"`
	Title  string `json:"title"`
	Fields int    `json:"fields"`
}

// HistoryStore is a Sink that can return the records it stored, RedisSink is one
type HistoryStore interface {
	History(ctx context.Context, sender esp3.SenderID, n int64) ([]eep.Record, error)
}

const (
	defaultHistory = 100
	commandTimeout = 10 * time.Second
)

type api struct {
	g       *Gateway
	build   BuildInfo
	history HistoryStore
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(status)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=UTF-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}

func (a *api) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.build)
}

func (a *api) getProfiles(w http.ResponseWriter, r *http.Request) {
	profiles := a.g.registry.Profiles()
	res := make([]profileSummary, len(profiles))
	for i, p := range profiles {
		res[i] = profileSummary{EEP: p.ID, Title: p.Title, Fields: len(p.Fields)}
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) getProfile(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	id, err := eep.ParseID(params["eep"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.g.registry.Resolve(id)
	if err != nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No such profile %v", id))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *api) getDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.g.State.Devices())
}

// postCommand encodes the JSON object of field values in the body and sends it to the device
func (a *api) postCommand(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	sender, err := esp3.ParseSenderID(params["sender"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var values eep.Values
	if err := json.NewDecoder(r.Body).Decode(&values); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()
	f, err := a.g.Command(ctx, sender, values)
	if err != nil {
		writeError(w, commandStatus(err), err.Error())
		return
	}
	b, _ := f.MarshalBinary()
	writeJSON(w, http.StatusOK, struct {
		Sent string `json:"sent"`
	}{Sent: fmt.Sprintf("% x", b)})
}

func commandStatus(err error) int {
	switch {
	case errors.Is(err, eep.ErrUnknownDevice), errors.Is(err, eep.ErrProfileNotFound):
		return http.StatusNotFound
	case errors.Is(err, eep.ErrValue), errors.Is(err, eep.ErrUnmapped), errors.Is(err, eep.ErrOutOfRange):
		return http.StatusBadRequest
	case errors.Is(err, ErrReadOnly), errors.Is(err, ErrBaseIDUnknown):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRejected):
		return http.StatusBadGateway
	case errors.Is(err, ErrNoResponse), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (a *api) getRecords(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.g.State.Records())
}

func (a *api) getRecord(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	sender, err := esp3.ParseSenderID(params["sender"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, ok := a.g.State.Record(sender)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("No record from %v", sender))
		return
	}
	res := struct {
		eep.Record
		Device DeviceStatus `json:"device"`
	}{Record: rec}
	res.Device, _ = a.g.State.Device(sender)
	writeJSON(w, http.StatusOK, res)
}

func (a *api) getHistory(w http.ResponseWriter, r *http.Request) {
	if a.history == nil {
		writeError(w, http.StatusNotFound, "No history store configured")
		return
	}
	params := mux.Vars(r)
	sender, err := esp3.ParseSenderID(params["sender"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	n := int64(defaultHistory)
	if s := r.URL.Query().Get("n"); s != "" {
		if n, err = strconv.ParseInt(s, 10, 64); err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid count %q", s))
			return
		}
	}
	records, err := a.history.History(r.Context(), sender, n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (a *api) getAnnouncements(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.g.State.Announcements())
}

func (a *api) getGateway(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.g.State.Info())
}

func health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// NewRouter serves the diagnostics API of g. Set g.Sinks first, /records/{sender}/history
// is served by the first sink implementing HistoryStore.
func NewRouter(g *Gateway, build BuildInfo) *mux.Router {
	a := &api{g: g, build: build}
	for _, s := range g.Sinks {
		if h, ok := s.(HistoryStore); ok {
			a.history = h
			break
		}
	}
	router := mux.NewRouter()

	router.HandleFunc("/version", a.versionInfo).Methods("GET")
	router.HandleFunc("/profiles", a.getProfiles).Methods("GET")
	router.HandleFunc("/profiles/{eep}", a.getProfile).Methods("GET")
	router.HandleFunc("/devices", a.getDevices).Methods("GET")
	router.HandleFunc("/devices/{sender}/command", a.postCommand).Methods("POST")
	router.HandleFunc("/records", a.getRecords).Methods("GET")
	router.HandleFunc("/records/{sender}", a.getRecord).Methods("GET")
	router.HandleFunc("/records/{sender}/history", a.getHistory).Methods("GET")
	router.HandleFunc("/announcements", a.getAnnouncements).Methods("GET")
	router.HandleFunc("/gateway", a.getGateway).Methods("GET")
	router.Handle("/metrics", g.Metrics.Handler()).Methods("GET")
	router.HandleFunc("/health", health).Methods("GET")
	return router
}
