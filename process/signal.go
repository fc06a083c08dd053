package process

import (
	"fmt"
	"strings"
)

// Signal is a process signal in a platform-independent representation. The
// values match unix signal numbers.
type Signal int

const (
	SIGHUP  Signal = 1
	SIGINT  Signal = 2
	SIGQUIT Signal = 3
	SIGUSR1 Signal = 10
	SIGUSR2 Signal = 12
	SIGTERM Signal = 15
)

var signalMap = map[string]Signal{
	"SIGHUP":  SIGHUP,
	"SIGINT":  SIGINT,
	"SIGQUIT": SIGQUIT,
	"SIGUSR1": SIGUSR1,
	"SIGUSR2": SIGUSR2,
	"SIGTERM": SIGTERM,
}

func (s Signal) String() string {
	for name, sig := range signalMap {
		if sig == s {
			return name
		}
	}
	return fmt.Sprintf("%d", int(s))
}

// ParseSignal converts a signal name, like "SIGTERM" or "sigterm", into a
// Signal.
func ParseSignal(sig string) (Signal, error) {
	s, ok := signalMap[strings.ToUpper(sig)]
	if !ok {
		return Signal(0), fmt.Errorf("unknown signal %q", sig)
	}
	return s, nil
}
