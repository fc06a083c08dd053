package process

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

// Structure outputs messages written to it as structured JSON lines with the
// given metadata attached. The build runner uses it to tag each job's output
// when machine-readable logs are requested.
type Structure struct {
	w        io.Writer
	metadata map[string]string
	encoder  *json.Encoder
}

func NewStructure(w io.Writer, metadata map[string]string) *Structure {
	metadataCopy := make(map[string]string, len(metadata))
	for k, v := range metadata {
		metadataCopy[k] = v
	}
	return &Structure{w, metadataCopy, json.NewEncoder(w)}
}

// Write serializes data as a JSON object with message, timestamp and the
// metadata fields. Trailing newlines and carriage returns are dropped; they
// don't make sense in a structured record.
func (s *Structure) Write(data []byte) (n int, err error) {
	entry := map[string]string{
		"message":   strings.TrimRight(string(data), "\r\n"),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range s.metadata {
		entry[k] = v
	}
	if err := s.encoder.Encode(entry); err != nil {
		return 0, err
	}
	return len(data), nil
}
