package led

// LED roles used by rovercam. Boards map them to their own LED names.
const (
	RoleStatus = "status" // camera supervisor state
	RoleLink   = "link"   // serial link state
)

// Patterns understood by every controller.
const (
	PatternSolid = "solid"
	PatternBlink = "blink"
)

// Controller abstracts LED hardware control across different SBC boards.
type Controller interface {
	// Set switches the LED for role on or off. pattern may be empty to
	// leave the current pattern unchanged.
	Set(role string, enabled bool, pattern string) error

	// Available returns the roles this board has an LED for.
	Available() []string

	// Patterns returns the supported patterns.
	Patterns() []string
}
