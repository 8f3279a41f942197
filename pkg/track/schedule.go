package track

// Schedule is the declarative key rotation hint for a track: key i covers
// samples [i*S, (i+1)*S) and the list repeats after K keys. The packager
// applies it; a trailing partial cycle is its business.
type Schedule struct {
	keyCount      int
	samplesPerKey int
}

// NewSchedule returns the schedule for keyCount keys rotating every
// samplesPerKey samples.
func NewSchedule(keyCount, samplesPerKey int) Schedule {
	if keyCount < 0 {
		keyCount = 0
	}
	if samplesPerKey < 0 {
		samplesPerKey = 0
	}
	return Schedule{keyCount: keyCount, samplesPerKey: samplesPerKey}
}

func (s Schedule) KeyCount() int { return s.keyCount }
func (s Schedule) SamplesPerKey() int { return s.samplesPerKey }

// Rotating reports whether more than one key is used.
func (s Schedule) Rotating() bool {
	return s.samplesPerKey > 0 && s.keyCount > 1
}

// KeyIndex returns the key protecting the given sample.
func (s Schedule) KeyIndex(sample uint64) int {
	if !s.Rotating() {
		return 0
	}
	return int((sample / uint64(s.samplesPerKey)) % uint64(s.keyCount))
}

// Start returns the first sample of the n-th key period.
func (s Schedule) Start(n int) uint64 {
	if s.samplesPerKey == 0 || n <= 0 {
		return 0
	}
	return uint64(n) * uint64(s.samplesPerKey)
}
