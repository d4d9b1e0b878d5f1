package trace

import (
	"encoding/json"
	"os"
	"sync"
)

// Event is what a Recorder receives for every evaluated query.
type Event struct {
	Query  string `json:"query"`
	Result string `json:"result"`
	Trace  Trace  `json:"trace"`
}

type Recorder interface {
	RecordEvent(event Event) error
}

type localFileRecorder struct {
	lock    sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// MakeLocalFileRecorder writes one JSON object per event to filename.
func MakeLocalFileRecorder(filename string) (Recorder, func() error, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, nil, err
	}
	recorder := &localFileRecorder{
		file:    file,
		encoder: json.NewEncoder(file),
	}
	return recorder, file.Close, nil
}

func (recorder *localFileRecorder) RecordEvent(event Event) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	return recorder.encoder.Encode(event)
}

// MemoryRecorder keeps events in order of arrival.
type MemoryRecorder struct {
	lock   sync.Mutex
	events []Event
}

func (recorder *MemoryRecorder) RecordEvent(event Event) error {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	recorder.events = append(recorder.events, event)
	return nil
}

func (recorder *MemoryRecorder) Events() []Event {
	recorder.lock.Lock()
	defer recorder.lock.Unlock()
	out := make([]Event, len(recorder.events))
	copy(out, recorder.events)
	return out
}
