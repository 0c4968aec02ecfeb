package app

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeySpace       = " "
	KeyUp          = "up"
	KeyDown        = "down"
	KeyJ           = "j"
	KeyK           = "k"
	KeyEnd         = "end"
	KeySource      = "s"
	KeyTarget      = "t"
	KeyExport      = "e"
	KeyClear       = "c"
	KeySourceUpper = "S"
	KeyTargetUpper = "T"
)
