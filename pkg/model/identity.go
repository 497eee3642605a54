package model

// MachineIdentity is this installation's persistent identity, generated
// once and never mutated by the protocol.
type MachineIdentity struct {
	MachineID   string `yaml:"machine_id" json:"machine_id"`
	MachineName string `yaml:"machine_name" json:"machine_name"`
}

// PeerPolicy is the trust policy for one remote peer. The config store
// does not use this type: it keys trust entries by peer name alone, and
// its trust queries do not compare the stored machine id.
type PeerPolicy struct {
	PeerName      string       `yaml:"-" json:"peer_name"`
	PeerMachineID string       `yaml:"-" json:"peer_machine_id"`
	AutoAccept    bool         `yaml:"auto_accept" json:"auto_accept"`
	AllowedKinds  []DeviceKind `yaml:"allowed_kinds" json:"allowed_kinds"`
}

// AllowsKind reports whether kind is in the peer's allowed set.
func (p PeerPolicy) AllowsKind(kind DeviceKind) bool {
	for _, k := range p.AllowedKinds {
		if k == kind {
			return true
		}
	}
	return false
}
