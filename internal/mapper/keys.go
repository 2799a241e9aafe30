package mapper

import "fmt"

// Key identifies a physical key position on a US keyboard. Backends
// translate their native key codes into a Key before calling the Mapper.
type Key uint8

// Physical keys understood by the Mapper. Everything else is KeyOther.
const (
	KeyOther Key = iota
	KeyA
	KeyB
	KeyC
	KeyD
	KeyE
	KeyF
	KeyG
	KeyH
	KeyI
	KeyJ
	KeyK
	KeyL
	KeyM
	KeyN
	KeyO
	KeyP
	KeyQ
	KeyR
	KeyS
	KeyT
	KeyU
	KeyV
	KeyW
	KeyX
	KeyY
	KeyZ
	KeySpace
	KeySemicolon    // ; next to L
	KeyApostrophe   // ' next to ;
	KeyLeftBracket  // [ next to P
	KeyRightBracket // ] next to [
	KeyBackslash    // \ above Enter
	KeySlash        // / next to .
)

// LetterKey returns the Key for an ASCII letter, upper or lower case.
func LetterKey(c rune) (Key, bool) {
	switch {
	case c >= 'a' && c <= 'z':
		return KeyA + Key(c-'a'), true
	case c >= 'A' && c <= 'Z':
		return KeyA + Key(c-'A'), true
	}
	return KeyOther, false
}

// IsLetter reports whether k is one of KeyA through KeyZ.
func (k Key) IsLetter() bool {
	return k >= KeyA && k <= KeyZ
}

// Letter returns the letter produced by k, upper case when shift is held.
// It returns 0 for non-letter keys.
func (k Key) Letter(shift bool) rune {
	if !k.IsLetter() {
		return 0
	}
	if shift {
		return 'A' + rune(k-KeyA)
	}
	return 'a' + rune(k-KeyA)
}

// String returns the US legend of the key.
func (k Key) String() string {
	switch {
	case k.IsLetter():
		return string(k.Letter(true))
	case k == KeySpace:
		return "Space"
	case k == KeySemicolon:
		return ";"
	case k == KeyApostrophe:
		return "'"
	case k == KeyLeftBracket:
		return "["
	case k == KeyRightBracket:
		return "]"
	case k == KeyBackslash:
		return `\`
	case k == KeySlash:
		return "/"
	case k == KeyOther:
		return "Other"
	}
	return fmt.Sprintf("Key(%d)", uint8(k))
}

// ParseKey parses a US legend (as printed by String, or the shifted
// character of the key) into a Key and shift state. Letters are shifted
// when upper case.
func ParseKey(s string) (Key, bool, error) {
	switch s {
	case "Space", "space", " ":
		return KeySpace, false, nil
	case ";":
		return KeySemicolon, false, nil
	case ":":
		return KeySemicolon, true, nil
	case "'":
		return KeyApostrophe, false, nil
	case `"`:
		return KeyApostrophe, true, nil
	case "[":
		return KeyLeftBracket, false, nil
	case "{":
		return KeyLeftBracket, true, nil
	case "]":
		return KeyRightBracket, false, nil
	case "}":
		return KeyRightBracket, true, nil
	case `\`:
		return KeyBackslash, false, nil
	case "|":
		return KeyBackslash, true, nil
	case "/":
		return KeySlash, false, nil
	case "?":
		return KeySlash, true, nil
	}
	r := []rune(s)
	if len(r) == 1 {
		if k, ok := LetterKey(r[0]); ok {
			return k, r[0] >= 'A' && r[0] <= 'Z', nil
		}
	}
	return KeyOther, false, fmt.Errorf("mapper: unknown key %q", s)
}
