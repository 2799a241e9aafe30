//go:build linux

package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"

	"ghostkeys/internal/logging"
)

const (
	notificationsName = "org.freedesktop.Notifications"
	notificationsPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyMethod      = notificationsName + ".Notify"

	expireMs = 3000

	// callTimeout bounds a call to the notification daemon.
	callTimeout = 200 * time.Millisecond
)

// Desktop sends notifications over the session bus. Successive
// notifications replace the previous one.
type Desktop struct {
	conn *dbus.Conn

	mu   sync.Mutex
	last uint32
}

func newDesktop() (Notifier, error) {
	conn, err := dbus.SessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect to session bus: %w", err)
	}
	return &Desktop{conn: conn}, nil
}

func (d *Desktop) Notify(title, body string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	obj := d.conn.Object(notificationsName, notificationsPath)
	call := obj.CallWithContext(ctx, notifyMethod, 0,
		logging.AppName,
		d.last,
		"input-keyboard",
		title,
		body,
		[]string{},
		map[string]dbus.Variant{},
		int32(expireMs),
	)
	if call.Err != nil {
		return fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err == nil {
		d.last = id
	}
	return nil
}
