package app

// Key binding constants used in handleKey.
const (
	KeyQuit        = "q"
	KeyQuitUpper   = "Q"
	KeyCtrlC       = "ctrl+c"
	KeyUp          = "up"
	KeyDown        = "down"
	KeyJ           = "j"
	KeyK           = "k"
	KeyEnter       = "enter"
	KeyNext        = "n"
	KeyRandom      = "r"
	KeyRateUp      = "+"
	KeyRateUpAlt   = "="
	KeyRateDown    = "-"
	KeyRateNeutral = "0"
	KeySkip        = "x"
	KeySession     = "s"
	KeyReload      = "R"
)
