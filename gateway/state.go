package gateway

import (
	"sort"
	"sync"
	"time"

	"github.com/tostmann/ha-enocean-mqtt-slim/eep"
	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

// maxAnnouncements is the number of teach-in telegrams kept for inspection
const maxAnnouncements = 100

// DeviceStatus is what the gateway knows about a transmitter it heard
type DeviceStatus struct {
	Sender    esp3.SenderID `json:"sender"`
	EEP       *eep.ID       `json:"eep,omitempty"`
	LastSeen  time.Time     `json:"last_seen"`
	DBm       int           `json:"rssi,omitempty"`
	Telegrams uint64        `json:"telegrams"`
}

// Info holds the identity of the transceiver module
type Info struct {
	Link    string            `json:"link,omitempty"`
	BaseID  esp3.SenderID     `json:"base_id"`
	Version *esp3.VersionInfo `json:"version,omitempty"`
	App     string            `json:"app_version,omitempty"`
	API     string            `json:"api_version,omitempty"`
}

// State keeps the latest record per device, recent announcements and the module info.
// It is safe for concurrent use by the gateway loop and HTTP handlers.
type State struct {
	mu            sync.RWMutex
	devices       map[esp3.SenderID]*DeviceStatus
	records       map[esp3.SenderID]eep.Record
	announcements []eep.Announcement
	info          Info
}

// NewState is the factory method to create an empty State
func NewState() *State {
	return &State{
		devices: make(map[esp3.SenderID]*DeviceStatus),
		records: make(map[esp3.SenderID]eep.Record),
	}
}

// seen updates last-seen and signal strength of a sender
func (s *State) seen(p esp3.Packet, id *eep.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.devices[p.Sender]
	if !ok {
		d = &DeviceStatus{Sender: p.Sender}
		s.devices[p.Sender] = d
	}
	d.LastSeen = time.Now()
	d.Telegrams++
	if dbm, ok := p.DBm(); ok {
		d.DBm = dbm
	}
	if id != nil {
		d.EEP = id
	}
}

func (s *State) record(r eep.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.Sender] = r
}

func (s *State) announce(a eep.Announcement) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announcements = append(s.announcements, a)
	if n := len(s.announcements); n > maxAnnouncements {
		s.announcements = append(s.announcements[:0:0], s.announcements[n-maxAnnouncements:]...)
	}
}

func (s *State) setBaseID(id esp3.SenderID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.BaseID = id
}

func (s *State) setVersion(v esp3.VersionInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Version = &v
	s.info.App = v.App()
	s.info.API = v.API()
}

// SetLink records the connection string shown by /gateway
func (s *State) SetLink(link string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info.Link = link
}

// Info returns the module identity, BaseID is 0 until the module answered
func (s *State) Info() Info {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.info
}

// Devices returns all senders heard so far, ordered by id
func (s *State) Devices() []DeviceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]DeviceStatus, 0, len(s.devices))
	for _, d := range s.devices {
		res = append(res, *d)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Sender < res[j].Sender })
	return res
}

// Device returns the status of one sender
func (s *State) Device(id esp3.SenderID) (DeviceStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.devices[id]
	if !ok {
		return DeviceStatus{}, false
	}
	return *d, true
}

// Records returns the latest record of every device, ordered by sender
func (s *State) Records() []eep.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	res := make([]eep.Record, 0, len(s.records))
	for _, r := range s.records {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Sender < res[j].Sender })
	return res
}

// Record returns the latest record of one device
func (s *State) Record(id esp3.SenderID) (eep.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	return r, ok
}

// Announcements returns the recent teach-in telegrams, oldest first
func (s *State) Announcements() []eep.Announcement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]eep.Announcement(nil), s.announcements...)
}
