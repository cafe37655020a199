package telemetry

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"
)

// Timestamp accepts either an RFC3339 string or an epoch number on the
// wire. Epoch values above 1e12 are interpreted as milliseconds.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "" || raw == "null" {
		return errors.New("timestamp is required")
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return err
		}
		t.Time = parsed.UTC()
		return nil
	}
	epoch, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return errors.New("timestamp must be RFC3339 or epoch")
	}
	if epoch > 1e12 {
		t.Time = time.UnixMilli(int64(epoch)).UTC()
		return nil
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	t.Time = time.Unix(sec, nsec).UTC()
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time.UTC().Format(time.RFC3339Nano))
}
