//go:build windows

package interceptor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"

	"ghostkeys/internal/mapper"
	"ghostkeys/internal/state"
)

const backendWindows = "windows"

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procGetMessageW         = user32.NewProc("GetMessageW")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
	procSetTimer            = user32.NewProc("SetTimer")
	procKillTimer           = user32.NewProc("KillTimer")
	procSendInput           = user32.NewProc("SendInput")
	procGetAsyncKeyState    = user32.NewProc("GetAsyncKeyState")
)

const (
	whKeyboardLL = 13
	hcAction     = 0

	wmKeyDown    = 0x0100
	wmKeyUp      = 0x0101
	wmSysKeyDown = 0x0104
	wmSysKeyUp   = 0x0105
	wmTimer      = 0x0113
	wmQuit       = 0x0012

	llkhfInjected = 0x10

	inputKeyboard    = 1
	keyeventfKeyUp   = 0x0002
	keyeventfUnicode = 0x0004

	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkLWin    = 0x5B
	vkRWin    = 0x5C
	vkLShift  = 0xA0
	vkRShift  = 0xA1
)

type kbdllHookStruct struct {
	vkCode      uint32
	scanCode    uint32
	flags       uint32
	time        uint32
	dwExtraInfo uintptr
}

type keybdInput struct {
	wVk         uint16
	wScan       uint16
	dwFlags     uint32
	time        uint32
	dwExtraInfo uintptr
}

// input mirrors INPUT; padding covers the larger MOUSEINPUT arm of the
// union.
type input struct {
	inputType uint32
	ki        keybdInput
	padding   uint64
}

type point struct{ x, y int32 }

type msg struct {
	hwnd    uintptr
	message uint32
	wParam  uintptr
	lParam  uintptr
	time    uint32
	pt      point
	private uint32
}

// The OS keeps at most a few thousand callbacks alive, so the hook
// procedure is created once and dispatches to the active hook.
var (
	hookProcOnce sync.Once
	hookProc     uintptr
	activeHook   atomic.Pointer[hookContext]
)

func lowLevelKeyboardProc(nCode, wParam, lParam uintptr) (ret uintptr) {
	h := activeHook.Load()
	if h != nil {
		// A panic must not unwind into the OS callback frame.
		defer func() {
			if r := recover(); r != nil {
				h.recovered(r, h.emergency)
				ret, _, _ = procCallNextHookEx.Call(0, nCode, wParam, lParam)
			}
		}()
	}
	if int32(nCode) == hcAction && h != nil {
		kb := (*kbdllHookStruct)(unsafe.Pointer(lParam))
		ev := RawKey{
			Code:     uint16(kb.vkCode),
			Key:      keyFromVK(kb.vkCode),
			Injected: kb.flags&llkhfInjected != 0,
			Time:     time.Now(),
		}
		var v Verdict
		switch wParam {
		case wmKeyDown, wmSysKeyDown:
			ev.Shift = shiftHeld()
			ev.Chord = chordHeld()
			v = h.keyDown(ev)
		case wmKeyUp, wmSysKeyUp:
			v = h.keyUp(ev)
		}
		if v == Block {
			return 1
		}
	}
	r, _, _ := procCallNextHookEx.Call(0, nCode, wParam, lParam)
	return r
}

func keyFromVK(vk uint32) mapper.Key {
	switch {
	case vk >= 'A' && vk <= 'Z':
		return mapper.KeyA + mapper.Key(vk-'A')
	}
	switch vk {
	case 0x20:
		return mapper.KeySpace
	case 0xBA: // VK_OEM_1
		return mapper.KeySemicolon
	case 0xDE: // VK_OEM_7
		return mapper.KeyApostrophe
	case 0xDB: // VK_OEM_4
		return mapper.KeyLeftBracket
	case 0xDD: // VK_OEM_6
		return mapper.KeyRightBracket
	case 0xDC: // VK_OEM_5
		return mapper.KeyBackslash
	case 0xBF: // VK_OEM_2
		return mapper.KeySlash
	}
	return mapper.KeyOther
}

func asyncKeyDown(vk uintptr) bool {
	r, _, _ := procGetAsyncKeyState.Call(vk)
	return int16(r) < 0
}

func shiftHeld() bool {
	return asyncKeyDown(vkShift) || asyncKeyDown(vkLShift) || asyncKeyDown(vkRShift)
}

func chordHeld() bool {
	return asyncKeyDown(vkControl) || asyncKeyDown(vkMenu) || asyncKeyDown(vkLWin) || asyncKeyDown(vkRWin)
}

// sendUnicode types chars with KEYEVENTF_UNICODE so the result does not
// depend on the active layout.
func sendUnicode(chars []rune) error {
	units := utf16.Encode(chars)
	if len(units) == 0 {
		return nil
	}
	inputs := make([]input, 0, 2*len(units))
	for _, u := range units {
		inputs = append(inputs,
			input{inputType: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyeventfUnicode}},
			input{inputType: inputKeyboard, ki: keybdInput{wScan: u, dwFlags: keyeventfUnicode | keyeventfKeyUp}},
		)
	}
	n, _, err := procSendInput.Call(
		uintptr(len(inputs)),
		uintptr(unsafe.Pointer(&inputs[0])),
		unsafe.Sizeof(inputs[0]),
	)
	if int(n) != len(inputs) {
		return fmt.Errorf("SendInput sent %d of %d events: %w", n, len(inputs), err)
	}
	return nil
}

type windowsHook struct {
	opts Options

	mu       sync.Mutex
	handle   atomic.Uintptr
	threadID atomic.Uint32
	done     chan struct{}
}

func newPlatform(opts Options) Interceptor {
	return &windowsHook{opts: opts}
}

func (w *windowsHook) Name() string { return backendWindows }

func (w *windowsHook) IsRunning() bool { return w.handle.Load() != 0 }

// Start installs WH_KEYBOARD_LL on a dedicated locked thread and runs its
// message loop there.
func (w *windowsHook) Start(ctx context.Context, modes state.ModeSource) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.IsRunning() {
		return hookErr(w.Name(), "start", ErrAlreadyRunning, nil)
	}
	if err := procSetWindowsHookExW.Find(); err != nil {
		return hookErr(w.Name(), "start", ErrHookInstall, err)
	}
	hookProcOnce.Do(func() { hookProc = windows.NewCallback(lowLevelKeyboardProc) })

	ready := make(chan error, 1)
	w.done = make(chan struct{})
	go w.run(modes, ready)
	select {
	case err := <-ready:
		if err != nil {
			return err
		}
	case <-w.done:
		select {
		case err := <-ready:
			if err != nil {
				return err
			}
		default:
		}
		return hookErr(w.Name(), "start", ErrHookInstall, errors.New("hook thread exited during start"))
	}

	go func() {
		select {
		case <-ctx.Done():
			w.postQuit()
		case <-w.done:
		}
	}()

	w.opts.Metrics.HookStartsTotal.Inc()
	w.opts.Metrics.HookRunning.SetBool(true)
	w.opts.Logger.Info("keyboard hook installed", "backend", w.Name())
	return nil
}

func (w *windowsHook) run(modes state.ModeSource, ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(w.done)
	defer func() {
		if r := recover(); r != nil {
			hookPanic(w.Name(), w.opts.Logger, w.opts.OnFatal, r, w.EmergencyRelease)
		}
	}()

	w.threadID.Store(windows.GetCurrentThreadId())

	h := newHookContext(w.Name(), modes, InjectorFunc(sendUnicode), w.opts)
	h.emergency = w.EmergencyRelease
	activeHook.Store(h)
	defer activeHook.Store(nil)

	var module windows.Handle
	if err := windows.GetModuleHandleEx(0, nil, &module); err != nil {
		ready <- hookErr(w.Name(), "start", ErrHookInstall, err)
		return
	}
	handle, _, err := procSetWindowsHookExW.Call(whKeyboardLL, hookProc, uintptr(module), 0)
	if handle == 0 {
		ready <- hookErr(w.Name(), "start", ErrHookInstall, err)
		return
	}
	w.handle.Store(handle)

	timer, _, _ := procSetTimer.Call(0, 0, uintptr(w.opts.Tick/time.Millisecond), 0)
	ready <- nil

	var m msg
	for {
		r, _, _ := procGetMessageW.Call(uintptr(unsafe.Pointer(&m)), 0, 0, 0)
		if int32(r) <= 0 {
			break
		}
		if m.message == wmTimer && h.tick(time.Now()) {
			break
		}
	}

	if timer != 0 {
		procKillTimer.Call(0, timer)
	}
	h.release()
	if err := w.unhook(); err != nil {
		w.opts.Logger.Error("hook release failed", "error", err)
	}
}

func (w *windowsHook) postQuit() {
	if id := w.threadID.Load(); id != 0 {
		procPostThreadMessageW.Call(uintptr(id), wmQuit, 0, 0)
	}
}

func (w *windowsHook) unhook() error {
	handle := w.handle.Swap(0)
	if handle == 0 {
		return nil
	}
	w.opts.Metrics.HookRunning.SetBool(false)
	if r, _, err := procUnhookWindowsHookEx.Call(handle); r == 0 {
		return hookErr(w.Name(), "release", ErrHookRelease, err)
	}
	return nil
}

// Stop posts WM_QUIT to the hook thread and waits up to the stop timeout,
// then falls back to releasing the hook from the calling thread.
func (w *windowsHook) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done == nil {
		return nil
	}
	select {
	case <-w.done:
		return nil
	default:
	}

	w.postQuit()
	timer := time.NewTimer(w.opts.StopTimeout)
	defer timer.Stop()

	select {
	case <-w.done:
		w.opts.Logger.Info("keyboard hook released", "backend", w.Name())
		return nil
	case <-timer.C:
		w.opts.Logger.Warn("hook thread did not stop in time, releasing directly",
			"backend", w.Name(), "timeout", w.opts.StopTimeout)
		return w.EmergencyRelease()
	}
}

// EmergencyRelease unhooks without waiting for the hook thread.
func (w *windowsHook) EmergencyRelease() error {
	activeHook.Store(nil)
	err := w.unhook()
	w.postQuit()
	return err
}
