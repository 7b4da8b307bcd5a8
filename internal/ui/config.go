package ui

// Config contains the window settings the viewer needs; audio, menus, save
// states, and skin overlays are out of scope.
type Config struct {
	Title string // window title
	Scale int    // integer upscaling factor
}

// Defaults fills missing fields with reasonable defaults.
func (c *Config) Defaults() {
	if c.Title == "" {
		c.Title = "gbview"
	}
	if c.Scale <= 0 {
		c.Scale = 3
	}
}
