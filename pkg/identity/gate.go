package identity

import "github.com/haivivi/speakerid/pkg/voiceprint"

// FirstEnrollment decides what the gate does when the claimed speaker has
// no stored embeddings yet.
type FirstEnrollment int

const (
	// FirstEnrollmentReject refuses evidence for a speaker with no stored
	// embeddings. Used for unattended growth.
	FirstEnrollmentReject FirstEnrollment = iota

	// FirstEnrollmentAccept admits the first embedding unverified. Used
	// where an operator vouches for the label.
	FirstEnrollmentAccept
)

func (p FirstEnrollment) String() string {
	if p == FirstEnrollmentAccept {
		return "accept"
	}
	return "reject"
}

// Gate admits new evidence only when its mean AND max similarity to the
// speaker's existing embeddings clear their thresholds.
type Gate struct {
	AvgThreshold    float32
	MaxThreshold    float32
	FirstEnrollment FirstEnrollment
}

// NewGate returns a gate with the default 0.60/0.75 thresholds.
func NewGate(first FirstEnrollment) Gate {
	return Gate{
		AvgThreshold:    DefaultAvgThreshold,
		MaxThreshold:    DefaultMaxThreshold,
		FirstEnrollment: first,
	}
}

// Verification is the gate's decision.
type Verification struct {
	Accepted bool
	Avg      float32
	Max      float32

	// Empty is set when there was nothing to verify against; Accepted then
	// follows the gate's FirstEnrollment policy.
	Empty bool
}

// Verify checks emb against existing.
func (g Gate) Verify(emb []float32, existing [][]float32) Verification {
	if len(existing) == 0 {
		return Verification{Empty: true, Accepted: g.FirstEnrollment == FirstEnrollmentAccept}
	}
	st := voiceprint.Similarities(emb, existing)
	return Verification{
		Accepted: st.Avg >= g.AvgThreshold && st.Max >= g.MaxThreshold,
		Avg:      st.Avg,
		Max:      st.Max,
	}
}
