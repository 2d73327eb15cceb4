package events

// Mode is the single system-wide operating state.
type Mode string

const (
	ModeStartup     Mode = "STARTUP"
	ModeIdle        Mode = "IDLE"
	ModeAmbient     Mode = "AMBIENT"
	ModeInteractive Mode = "INTERACTIVE"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeStartup, ModeIdle, ModeAmbient, ModeInteractive:
		return true
	}
	return false
}
