package coordinator

import "sync"

// Status is the state reported for a run.
type Status string

const (
	StatusRunning  Status = "Running"
	StatusFinished Status = "Finished"
	StatusFailed   Status = "Failed"
)

// Level is the severity of a business log line.
type Level string

const (
	LevelInfo    Level = "Info"
	LevelWarning Level = "Warning"
	LevelError   Level = "Error"
)

// BusinessLog is one line reported to the poller.
type BusinessLog struct {
	Level     Level  `json:"Level"`
	Message   string `json:"Message"`
	Exception string `json:"Exception"`
}

// StatusRecord is one entry of a run's status stream.
type StatusRecord struct {
	RunID        int64         `json:"-"`
	Status       Status        `json:"Status"`
	BusinessLogs []BusinessLog `json:"BusinessLogs"`
}

// Terminal reports whether no further records follow this one.
func (r StatusRecord) Terminal() bool {
	return r.Status != StatusRunning
}

func info(msg string) BusinessLog {
	return BusinessLog{Level: LevelInfo, Message: msg}
}

// StatusStream is the FIFO of status records of the current run. The
// coordinator is its only writer and the poller its only reader; Pop
// removes what it returns.
type StatusStream struct {
	mu      sync.Mutex
	records []StatusRecord
}

// Push appends a record.
func (s *StatusStream) Push(r StatusRecord) {
	s.mu.Lock()
	s.records = append(s.records, r)
	s.mu.Unlock()
}

// Pop removes and returns the oldest record.
func (s *StatusStream) Pop() (StatusRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.records) == 0 {
		return StatusRecord{}, false
	}
	r := s.records[0]
	s.records[0] = StatusRecord{}
	s.records = s.records[1:]
	return r, true
}

// Len returns the number of queued records.
func (s *StatusStream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Reset drops every queued record.
func (s *StatusStream) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}
