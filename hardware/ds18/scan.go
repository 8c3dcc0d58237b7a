package ds18

// Scan is enumeration state of one bus search cycle.
// Zero value is ready: first Next() asks for fresh search.
type Scan struct {
	addrs   []Address
	pos     int
	started bool
}

// Next returns next address of current cycle or false when cycle is exhausted.
// search is called only at cycle start.
func (s *Scan) Next(search func() ([]Address, error)) (Address, bool, error) {
	if !s.started {
		s.started = true
		s.pos = 0
		addrs, err := search()
		s.addrs = addrs
		if err != nil {
			return Address{}, false, err
		}
	}
	if s.pos >= len(s.addrs) {
		return Address{}, false, nil
	}
	a := s.addrs[s.pos]
	s.pos++
	return a, true, nil
}

// Reset makes next call to Next() start new cycle from first device.
func (s *Scan) Reset() {
	s.addrs = nil
	s.pos = 0
	s.started = false
}

// Remaining is number of addresses left in current cycle.
func (s *Scan) Remaining() int {
	if !s.started {
		return 0
	}
	return len(s.addrs) - s.pos
}
