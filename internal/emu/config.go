package emu

// Config contains settings that affect emulation behavior.
type Config struct {
	Trace bool // log PC/SP/IME once per frame via the standard logger
}
