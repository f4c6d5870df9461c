package github

import "time"

// Translate exposes translate for tests.
var Translate = translate

// SetSleep replaces the poll sleeper so tests do not
// wait in real time.
func (s *Service) SetSleep(fn func(time.Duration)) {
	s.sleep = fn
}
