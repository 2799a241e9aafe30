package mapper

import (
	"fmt"
	"strconv"
)

// ActionKind tells the interception layer what to do with a keydown.
type ActionKind uint8

const (
	// ActionPass forwards the original event unchanged.
	ActionPass ActionKind = iota
	// ActionSuppress blocks the original event and emits nothing.
	ActionSuppress
	// ActionReplace blocks the original event and injects one character.
	ActionReplace
	// ActionReplaceMultiple blocks the original event and injects two
	// characters in order.
	ActionReplaceMultiple
)

func (k ActionKind) String() string {
	switch k {
	case ActionPass:
		return "pass"
	case ActionSuppress:
		return "suppress"
	case ActionReplace:
		return "replace"
	case ActionReplaceMultiple:
		return "replace_multiple"
	}
	return "ActionKind(" + strconv.Itoa(int(k)) + ")"
}

// KeyAction is the Mapper's decision for one keydown. It is a small value
// type, comparable with ==, and never allocates.
type KeyAction struct {
	Kind  ActionKind
	chars [2]rune
	n     uint8
}

// Pass returns the pass-through action.
func Pass() KeyAction { return KeyAction{Kind: ActionPass} }

// Suppress returns the block-and-emit-nothing action.
func Suppress() KeyAction { return KeyAction{Kind: ActionSuppress} }

// Replace returns an action that injects r in place of the original key.
func Replace(r rune) KeyAction {
	return KeyAction{Kind: ActionReplace, chars: [2]rune{r}, n: 1}
}

// ReplaceMultiple returns an action that injects a then b.
func ReplaceMultiple(a, b rune) KeyAction {
	return KeyAction{Kind: ActionReplaceMultiple, chars: [2]rune{a, b}, n: 2}
}

// Blocks reports whether the original event must be swallowed.
func (a KeyAction) Blocks() bool {
	return a.Kind != ActionPass
}

// Len returns the number of characters to inject.
func (a KeyAction) Len() int { return int(a.n) }

// AppendRunes appends the characters to inject to dst.
func (a KeyAction) AppendRunes(dst []rune) []rune {
	return append(dst, a.chars[:a.n]...)
}

// Runes returns the characters to inject, or nil for Pass and Suppress.
func (a KeyAction) Runes() []rune {
	if a.n == 0 {
		return nil
	}
	return a.AppendRunes(make([]rune, 0, a.n))
}

func (a KeyAction) String() string {
	switch a.Kind {
	case ActionReplace, ActionReplaceMultiple:
		return fmt.Sprintf("%s(%q)", a.Kind, string(a.chars[:a.n]))
	}
	return a.Kind.String()
}
