package authority

// Meter wraps the set of defined callbacks for metrics gatherers.
type Meter interface {
	// X509Signed is called whenever a leaf X509 certificate is signed.
	X509Signed(kind string, success bool)

	// SSHSigned is called whenever an SSH certificate is signed.
	SSHSigned(kind string, success bool)

	// HierarchyBuilt is called whenever a CA hierarchy is generated.
	HierarchyBuilt(scope string, success bool)
}

// noopMeter implements a noop [Meter].
type noopMeter struct{}

func (noopMeter) X509Signed(string, bool)     {}
func (noopMeter) SSHSigned(string, bool)      {}
func (noopMeter) HierarchyBuilt(string, bool) {}
