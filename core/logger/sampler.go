package logger

import (
	"strconv"
	"strings"
	"sync"
)

// eventSampler lets numerator out of every denominator records through, counted per event name.
type eventSampler struct {
	mu          sync.Mutex
	numerator   int
	denominator int
	counters    map[string]int
}

func newEventSampler(numerator, denominator int) *eventSampler {
	s := &eventSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set configures the ratio and resets counters. Non-positive values disable sampling.
func (s *eventSampler) Set(numerator, denominator int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counters = make(map[string]int)
	if numerator <= 0 || denominator <= 0 {
		s.numerator = 0
		s.denominator = 0
		return
	}
	if numerator > denominator {
		numerator = denominator
	}
	s.numerator = numerator
	s.denominator = denominator
}

// Allow reports whether the next record of event passes sampling.
func (s *eventSampler) Allow(event string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denominator <= 0 || s.numerator <= 0 {
		return true
	}
	n := s.counters[event] + 1
	if n > s.denominator {
		n = 1
	}
	s.counters[event] = n
	return n <= s.numerator
}

// parseRatioSpec accepts "n/d" or a bare "d" meaning 1/d.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 == nil && err2 == nil {
			return n, d
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
