package mapper

// Accent is a dead-key accent awaiting composition.
type Accent uint8

const (
	AccentNone Accent = iota
	Tilde
	Acute
	Grave
	Circumflex
)

// Bare returns the spacing character emitted when the accent does not
// combine with the following key.
func (a Accent) Bare() rune {
	switch a {
	case Tilde:
		return '~'
	case Acute:
		return '\u00b4'
	case Grave:
		return '`'
	case Circumflex:
		return '^'
	}
	return 0
}

// combining returns the Unicode combining mark for the accent.
func (a Accent) combining() rune {
	switch a {
	case Tilde:
		return '\u0303'
	case Acute:
		return '\u0301'
	case Grave:
		return '\u0300'
	case Circumflex:
		return '\u0302'
	}
	return 0
}

func (a Accent) String() string {
	switch a {
	case Tilde:
		return "tilde"
	case Acute:
		return "acute"
	case Grave:
		return "grave"
	case Circumflex:
		return "circumflex"
	}
	return "none"
}
