package eep

import (
	"encoding/json"
	"testing"

	"github.com/tostmann/ha-enocean-mqtt-slim/esp3"
)

func TestRecordJSONKeepsSignalPresence(t *testing.T) {
	p := esp3.Packet{
		Type:     esp3.RadioERP1,
		Kind:     esp3.KindTelegram,
		Sender:   0x01825dab,
		Optional: &esp3.Optional{Destination: esp3.Broadcast, DBm: 0},
	}
	id := ID{RORG: BS4, Func: 0x02, Type: 0x05}
	for _, r := range []Record{
		NewRecord(p, id, Values{"TMP": 21.5}),
		NewRecord(esp3.Packet{Sender: 0x01825dab}, id, Values{"TMP": 21.5}),
	} {
		b, err := json.Marshal(r)
		if err != nil {
			t.Fatal(err)
		}
		var got Record
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatal(err)
		}
		if got.HasDBm != r.HasDBm || got.DBm != r.DBm || got.ID != r.ID || got.EEP != id {
			t.Errorf("%s read back as %+v", b, got)
		}
	}
}
