package mapper

import (
	"fmt"
	"sync"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

type chord struct {
	key   Key
	shift bool
}

type combo struct {
	accent Accent
	char   rune
}

// Tables holds the immutable ABNT2 lookup tables. A Tables value is never
// mutated after construction and may be shared between Mappers.
type Tables struct {
	position map[chord]rune
	triggers map[chord]Accent
	combos   map[combo]rune
}

// PositionEntry is one row of the position table.
type PositionEntry struct {
	Key   Key
	Shift bool
	Out   rune
}

// TriggerEntry is one row of the dead-key trigger table.
type TriggerEntry struct {
	Key    Key
	Shift  bool
	Accent Accent
}

// ComboEntry is one row of the accent combination table.
type ComboEntry struct {
	Accent Accent
	Base   rune
	Out    rune
}

var positionRows = []PositionEntry{
	{KeySemicolon, false, 'ç'},
	{KeySemicolon, true, 'Ç'},
	{KeyRightBracket, false, '['},
	{KeyRightBracket, true, '{'},
	{KeyBackslash, false, ']'},
	{KeyBackslash, true, '}'},
	{KeySlash, false, ';'},
	{KeySlash, true, ':'},
}

// The grave accent lives on Shift+[ on ABNT2 hardware.
var triggerRows = []TriggerEntry{
	{KeyApostrophe, false, Tilde},
	{KeyApostrophe, true, Circumflex},
	{KeyLeftBracket, false, Acute},
	{KeyLeftBracket, true, Grave},
}

var comboBases = map[Accent]string{
	Tilde:      "aonAON",
	Acute:      "aeiouAEIOU",
	Grave:      "aA",
	Circumflex: "aeoAEO",
}

var (
	defaultTables     *Tables
	defaultTablesOnce sync.Once
)

// DefaultTables returns the shared ABNT2 tables, building them on first use.
func DefaultTables() *Tables {
	defaultTablesOnce.Do(func() {
		defaultTables = buildTables()
	})
	return defaultTables
}

func buildTables() *Tables {
	t := &Tables{
		position: make(map[chord]rune, len(positionRows)),
		triggers: make(map[chord]Accent, len(triggerRows)),
		combos:   make(map[combo]rune, 32),
	}
	for _, row := range positionRows {
		t.position[chord{row.Key, row.Shift}] = row.Out
	}
	for _, row := range triggerRows {
		t.triggers[chord{row.Key, row.Shift}] = row.Accent
	}
	for accent, bases := range comboBases {
		for _, base := range bases {
			t.combos[combo{accent, base}] = compose(base, accent)
		}
	}
	return t
}

// compose returns the precomposed form of base followed by the accent's
// combining mark. Every base in comboBases has a precomposed form.
func compose(base rune, a Accent) rune {
	s := norm.NFC.String(string([]rune{base, a.combining()}))
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		panic(fmt.Sprintf("mapper: %q + %s has no precomposed form", base, a))
	}
	return r
}

// Position looks up the ABNT2 character for a position-mapped key.
func (t *Tables) Position(k Key, shift bool) (rune, bool) {
	r, ok := t.position[chord{k, shift}]
	return r, ok
}

// Trigger looks up the accent started by a dead-key trigger.
func (t *Tables) Trigger(k Key, shift bool) (Accent, bool) {
	a, ok := t.triggers[chord{k, shift}]
	return a, ok
}

// Combine looks up the composed character for accent followed by c.
func (t *Tables) Combine(a Accent, c rune) (rune, bool) {
	r, ok := t.combos[combo{a, c}]
	return r, ok
}

// PositionEntries returns the position table in display order.
func (t *Tables) PositionEntries() []PositionEntry {
	out := make([]PositionEntry, len(positionRows))
	copy(out, positionRows)
	return out
}

// TriggerEntries returns the dead-key trigger table in display order.
func (t *Tables) TriggerEntries() []TriggerEntry {
	out := make([]TriggerEntry, len(triggerRows))
	copy(out, triggerRows)
	return out
}

// ComboEntries returns the accent combination table grouped by accent.
func (t *Tables) ComboEntries() []ComboEntry {
	var out []ComboEntry
	for _, a := range []Accent{Tilde, Acute, Grave, Circumflex} {
		for _, base := range comboBases[a] {
			out = append(out, ComboEntry{Accent: a, Base: base, Out: t.combos[combo{a, base}]})
		}
	}
	return out
}
