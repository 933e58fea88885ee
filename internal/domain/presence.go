package domain

// Environment names a deployment environment probed for presence.
type Environment string

const (
	EnvDEV Environment = "DEV"
	EnvIFT Environment = "IFT"
)

// Environments lists the fixed environments in display order.
func Environments() []Environment {
	return []Environment{EnvDEV, EnvIFT}
}

// Presence is the tri-state result of a presence check.
// The zero value is PresenceUnknown.
type Presence int

const (
	PresenceUnknown Presence = iota
	PresencePresent
	PresenceAbsent
)

// String implements fmt.Stringer.
func (p Presence) String() string {
	switch p {
	case PresencePresent:
		return "present"
	case PresenceAbsent:
		return "absent"
	default:
		return "unknown"
	}
}

// MarshalText encodes the presence as its name.
func (p Presence) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a presence name; anything unrecognized is Unknown.
func (p *Presence) UnmarshalText(text []byte) error {
	switch string(text) {
	case "present":
		*p = PresencePresent
	case "absent":
		*p = PresenceAbsent
	default:
		*p = PresenceUnknown
	}
	return nil
}

// EnvironmentPresence is the presence of one record in one environment.
type EnvironmentPresence struct {
	State Presence `json:"state"`
	// URL is the manifest URL that answered, when one did.
	URL string `json:"url,omitempty"`
	// Err keeps the last probe error for diagnostics; it is never surfaced as a failure.
	Err string `json:"error,omitempty"`
}
