package biometric

import "math/bits"

// MinSampleSize is the smallest sample HammingMatcher will template.
const MinSampleSize = 16

// HammingMatcher scores templates by the fraction of differing bits scaled to
// ProbabilityOne. Templates of different lengths never match.
type HammingMatcher struct{}

func (HammingMatcher) Template(sample Sample) (Template, error) {
	if len(sample.Data) < MinSampleSize {
		return nil, ErrSampleTooSmall
	}
	t := make(Template, len(sample.Data))
	copy(t, sample.Data)
	return t, nil
}

func (HammingMatcher) Compare(a, b Template) (int, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyTemplate
	}
	if len(a) != len(b) {
		return ProbabilityOne, nil
	}
	diff := 0
	for i := range a {
		diff += bits.OnesCount8(a[i] ^ b[i])
	}
	total := int64(len(a)) * 8
	return int(int64(diff) * ProbabilityOne / total), nil
}
