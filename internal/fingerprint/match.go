package fingerprint

// Matcher picks the stored fingerprint closest to Target within Threshold
// bits. Ties go to the lexically smaller key so scans in any order agree.
type Matcher struct {
	Target    Fingerprint
	Threshold int

	key   string
	dist  int
	found bool
}

// Offer considers one stored fingerprint in hex form. Unparseable and zero
// fingerprints are ignored, as is everything when Target is zero.
func (m *Matcher) Offer(key, hex string) {
	if m.Target.IsZero() {
		return
	}
	fp, err := Parse(hex)
	if err != nil || fp.IsZero() {
		return
	}
	d := Distance(m.Target, fp)
	if d > m.Threshold {
		return
	}
	if !m.found || d < m.dist || (d == m.dist && key < m.key) {
		m.key, m.dist, m.found = key, d, true
	}
}

// Result returns the best key offered so far.
func (m *Matcher) Result() (string, bool) {
	return m.key, m.found
}
