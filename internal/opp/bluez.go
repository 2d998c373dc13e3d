package opp

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService    = "org.bluez"
	obexService     = "org.bluez.obex"
	obexPath        = "/org/bluez/obex"
	adapterIface    = "org.bluez.Adapter1"
	deviceIface     = "org.bluez.Device1"
	obexClientIface = "org.bluez.obex.Client1"
	objectPushIface = "org.bluez.obex.ObjectPush1"
	transferIface   = "org.bluez.obex.Transfer1"
	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// BlueZDriver pushes files through the BlueZ OBEX daemon. The adapter lives on
// the system bus, obexd on the session bus.
type BlueZDriver struct {
	adapter dbus.ObjectPath // e.g. /org/bluez/hci0

	mu        sync.Mutex
	system    *dbus.Conn
	session   *dbus.Conn
	handler   Handler
	done      chan struct{}
	loopDone  chan struct{}
	transfers map[dbus.ObjectPath]*transfer
}

// transfer tracks one in-flight Transfer1 object.
type transfer struct {
	address string
	session dbus.ObjectPath
	path    dbus.ObjectPath // set once obexd has accepted the push
	size    uint64
}

// Compile-time check that BlueZDriver implements Driver.
var _ Driver = (*BlueZDriver)(nil)

// NewBlueZDriver creates a driver for the named adapter (e.g. "hci0").
func NewBlueZDriver(adapterName string) *BlueZDriver {
	if adapterName == "" {
		adapterName = "hci0"
	}
	return &BlueZDriver{adapter: dbus.ObjectPath("/org/bluez/" + adapterName)}
}

// deviceObjectPath converts a MAC address like "AA:BB:CC:DD:EE:FF" to
// "<adapter>/dev_AA_BB_CC_DD_EE_FF".
func deviceObjectPath(adapter dbus.ObjectPath, addr string) dbus.ObjectPath {
	return dbus.ObjectPath(string(adapter) + "/dev_" + strings.ReplaceAll(strings.ToUpper(addr), ":", "_"))
}

// macFromPath extracts a MAC address from a BlueZ device object path.
func macFromPath(path dbus.ObjectPath) string {
	s := string(path)
	i := strings.LastIndex(s, "/dev_")
	if i < 0 {
		return ""
	}
	rest := s[i+len("/dev_"):]
	if j := strings.Index(rest, "/"); j >= 0 {
		rest = rest[:j]
	}
	return strings.ReplaceAll(rest, "_", ":")
}

func (d *BlueZDriver) Init(h Handler) error {
	if h == nil {
		return errors.New("opp: bluez: nil handler")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handler != nil {
		return errors.New("opp: bluez: already initialised")
	}

	system, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("opp: bluez: connect system bus: %w", err)
	}
	if err := requireName(system, bluezService); err != nil {
		system.Close()
		return fmt.Errorf("opp: bluez: %w (is bluetooth.service running?)", err)
	}

	obj := system.Object(bluezService, d.adapter)
	if err := obj.Call(propsIface+".Set", 0, adapterIface, "Powered", dbus.MakeVariant(true)).Err; err != nil {
		system.Close()
		return fmt.Errorf("opp: bluez: power on %s: %w", d.adapter, err)
	}

	session, err := dbus.ConnectSessionBus()
	if err != nil {
		system.Close()
		return fmt.Errorf("opp: bluez: connect session bus: %w", err)
	}
	if err := requireName(session, obexService); err != nil {
		slog.Warn("[OPP] obexd not on session bus yet, relying on activation", "error", err)
	}

	sysSignals := make(chan *dbus.Signal, 32)
	sesSignals := make(chan *dbus.Signal, 32)
	if err := d.subscribe(system, sysSignals, dbus.ObjectPath("/")); err != nil {
		session.Close()
		system.Close()
		return err
	}
	if err := d.subscribe(session, sesSignals, obexPath); err != nil {
		session.Close()
		system.Close()
		return err
	}

	d.system = system
	d.session = session
	d.handler = h
	d.done = make(chan struct{})
	d.loopDone = make(chan struct{})
	d.transfers = make(map[dbus.ObjectPath]*transfer)

	go d.loop(sysSignals, sesSignals, d.done, d.loopDone)

	slog.Info("[OPP] bluez driver ready", "adapter", d.adapter)
	return nil
}

// requireName checks that name currently owns a connection on the bus.
func requireName(conn *dbus.Conn, name string) error {
	var names []string
	if err := conn.BusObject().Call("org.freedesktop.DBus.ListNames", 0).Store(&names); err != nil {
		return fmt.Errorf("list bus names: %w", err)
	}
	for _, n := range names {
		if n == name {
			return nil
		}
	}
	return fmt.Errorf("%s not found on bus", name)
}

func (d *BlueZDriver) subscribe(conn *dbus.Conn, ch chan *dbus.Signal, namespace dbus.ObjectPath) error {
	matches := [][]dbus.MatchOption{
		{dbus.WithMatchInterface(propsIface), dbus.WithMatchMember("PropertiesChanged"), dbus.WithMatchPathNamespace(namespace)},
		{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesAdded")},
		{dbus.WithMatchInterface(objManagerIface), dbus.WithMatchMember("InterfacesRemoved")},
	}
	for _, m := range matches {
		if err := conn.AddMatchSignal(m...); err != nil {
			return fmt.Errorf("opp: bluez: add match: %w", err)
		}
	}
	conn.Signal(ch)
	return nil
}

func (d *BlueZDriver) loop(sys, ses <-chan *dbus.Signal, done <-chan struct{}, loopDone chan<- struct{}) {
	defer close(loopDone)
	for {
		select {
		case <-done:
			return
		case sig, ok := <-sys:
			if !ok {
				return
			}
			d.handleSystemSignal(sig)
		case sig, ok := <-ses:
			if !ok {
				return
			}
			d.handleSessionSignal(sig)
		}
	}
}

func (d *BlueZDriver) currentHandler() Handler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handler
}

func (d *BlueZDriver) handleSystemSignal(sig *dbus.Signal) {
	h := d.currentHandler()
	if h == nil {
		return
	}
	for _, ev := range deviceEvents(d.adapter, sig) {
		h.HandleDeviceEvent(ev)
	}
}

// deviceEvents maps a system bus signal to zero or more device events.
func deviceEvents(adapter dbus.ObjectPath, sig *dbus.Signal) []DeviceEvent {
	switch sig.Name {
	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			return nil
		}
		iface, _ := sig.Body[0].(string)
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		switch {
		case iface == adapterIface && sig.Path == adapter:
			if v, ok := changed["Powered"]; ok {
				if on, _ := v.Value().(bool); on {
					return []DeviceEvent{{Kind: EventRadioInit, Address: string(adapter)}}
				}
				return []DeviceEvent{{Kind: EventRadioShutdown, Address: string(adapter)}}
			}
			if v, ok := changed["Discoverable"]; ok {
				return []DeviceEvent{{Kind: EventAccessChanged, Address: string(adapter), Data: fmt.Sprintf("discoverable=%v", v.Value())}}
			}
		case iface == deviceIface:
			addr := macFromPath(sig.Path)
			var out []DeviceEvent
			if v, ok := changed["Connected"]; ok {
				kind := EventDeviceDisconnected
				if on, _ := v.Value().(bool); on {
					kind = EventDeviceConnected
				}
				out = append(out, DeviceEvent{Kind: kind, Address: addr})
			}
			if v, ok := changed["Paired"]; ok {
				if on, _ := v.Value().(bool); on {
					out = append(out, DeviceEvent{Kind: EventPairingComplete, Address: addr})
				}
			}
			return out
		}
	case objManagerIface + ".InterfacesAdded":
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].(map[string]map[string]dbus.Variant)
		props, ok := ifaces[deviceIface]
		if !ok {
			return nil
		}
		name := ""
		if v, ok := props["Alias"]; ok {
			name, _ = v.Value().(string)
		}
		return []DeviceEvent{{Kind: EventDeviceAdded, Address: macFromPath(path), Data: name}}
	case objManagerIface + ".InterfacesRemoved":
		if len(sig.Body) < 2 {
			return nil
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		ifaces, _ := sig.Body[1].([]string)
		for _, i := range ifaces {
			if i == deviceIface {
				return []DeviceEvent{{Kind: EventDeviceRemoved, Address: macFromPath(path)}}
			}
		}
	}
	return nil
}

// sessionOf maps a Transfer1 object path (<session>/transferN) to its OBEX
// session path. Other paths are returned unchanged.
func sessionOf(path dbus.ObjectPath) dbus.ObjectPath {
	s := string(path)
	if i := strings.LastIndex(s, "/"); i > 0 && strings.HasPrefix(s[i+1:], "transfer") {
		return dbus.ObjectPath(s[:i])
	}
	return path
}

// handleSessionSignal routes obexd signals to the transfer registered under
// the owning session. Each terminal status is reported once.
func (d *BlueZDriver) handleSessionSignal(sig *dbus.Signal) {
	var events []TransferEvent
	var ended *transfer

	d.mu.Lock()
	h := d.handler
	switch sig.Name {
	case propsIface + ".PropertiesChanged":
		if len(sig.Body) < 2 {
			break
		}
		if iface, _ := sig.Body[0].(string); iface != transferIface {
			break
		}
		key := sessionOf(sig.Path)
		t, ok := d.transfers[key]
		if !ok {
			break
		}
		changed, _ := sig.Body[1].(map[string]dbus.Variant)
		var finished bool
		events, finished = t.apply(changed)
		if finished {
			delete(d.transfers, key)
			ended = t
		}
	case objManagerIface + ".InterfacesRemoved":
		if len(sig.Body) < 1 {
			break
		}
		path, _ := sig.Body[0].(dbus.ObjectPath)
		key := sessionOf(path)
		t, ok := d.transfers[key]
		if !ok {
			break
		}
		// Transfer or session went away before reporting complete or error.
		delete(d.transfers, key)
		events = []TransferEvent{Cancelled(t.address, CancelConnectionLost)}
	}
	d.mu.Unlock()

	if ended != nil {
		d.removeSession(ended.session)
	}
	if h == nil {
		return
	}
	for _, ev := range events {
		h.HandleTransferEvent(ev)
	}
}

// apply folds a Transfer1 property change into t and returns the events it
// produces. finished is true once the transfer reached a terminal status.
func (t *transfer) apply(changed map[string]dbus.Variant) (events []TransferEvent, finished bool) {
	if v, ok := changed["Size"]; ok {
		if size, ok := v.Value().(uint64); ok {
			t.size = size
		}
	}
	if v, ok := changed["Transferred"]; ok {
		if sent, ok := v.Value().(uint64); ok {
			events = append(events, Progress(t.address, sent, t.size))
		}
	}
	if v, ok := changed["Status"]; ok {
		status, _ := v.Value().(string)
		switch status {
		case "complete":
			events = append(events, Completed(t.address))
			finished = true
		case "error":
			events = append(events, Cancelled(t.address, CancelFailed))
			finished = true
		}
	}
	return events, finished
}

// removeSession tears down an OBEX session on obexd.
func (d *BlueZDriver) removeSession(sessionPath dbus.ObjectPath) {
	d.mu.Lock()
	session := d.session
	d.mu.Unlock()
	if session == nil {
		return
	}
	client := session.Object(obexService, obexPath)
	if err := client.Call(obexClientIface+".RemoveSession", 0, sessionPath).Err; err != nil {
		slog.Debug("[OPP] remove session", "session", sessionPath, "error", err)
	}
}

// track registers a transfer under its session before the push starts, so
// that signals racing the SendFile reply are not lost.
func (d *BlueZDriver) track(address string, sessionPath dbus.ObjectPath) *transfer {
	t := &transfer{address: address, session: sessionPath}
	d.mu.Lock()
	if d.transfers != nil {
		d.transfers[sessionPath] = t
	}
	d.mu.Unlock()
	return t
}

// untrack drops a transfer whose push never started.
func (d *BlueZDriver) untrack(sessionPath dbus.ObjectPath) {
	d.mu.Lock()
	delete(d.transfers, sessionPath)
	d.mu.Unlock()
}

// queued folds the ObjectPush1.SendFile reply into t. Nothing is reported if
// signals already finished the transfer.
func (d *BlueZDriver) queued(t *transfer, transferPath dbus.ObjectPath, props map[string]dbus.Variant) {
	d.mu.Lock()
	h := d.handler
	if d.transfers[t.session] != t {
		d.mu.Unlock()
		return
	}
	t.path = transferPath
	events, finished := t.apply(props)
	if finished {
		delete(d.transfers, t.session)
	}
	d.mu.Unlock()

	slog.Debug("[OPP] transfer queued", "transfer", transferPath, "size", t.size)
	if finished {
		d.removeSession(t.session)
	}
	if h == nil {
		return
	}
	for _, ev := range events {
		h.HandleTransferEvent(ev)
	}
}

// checkDevice fails unless BlueZ knows the device object.
func checkDevice(obj dbus.BusObject, address string) error {
	if _, err := obj.GetProperty(deviceIface + ".Address"); err != nil {
		return fmt.Errorf("opp: bluez: %s: %s: %w", CancelDeviceNotAvailable, address, err)
	}
	return nil
}

func (d *BlueZDriver) SendFile(address, path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("opp: bluez: resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return fmt.Errorf("opp: bluez: %w", err)
	}

	d.mu.Lock()
	system, session := d.system, d.session
	d.mu.Unlock()
	if session == nil || system == nil {
		return errors.New("opp: bluez: not initialised")
	}

	if err := checkDevice(system.Object(bluezService, deviceObjectPath(d.adapter, address)), address); err != nil {
		return err
	}

	client := session.Object(obexService, obexPath)
	args := map[string]dbus.Variant{"Target": dbus.MakeVariant("opp")}
	var sessionPath dbus.ObjectPath
	if err := client.Call(obexClientIface+".CreateSession", 0, address, args).Store(&sessionPath); err != nil {
		return fmt.Errorf("opp: bluez: create session with %s: %w", address, err)
	}

	t := d.track(address, sessionPath)

	var transferPath dbus.ObjectPath
	var props map[string]dbus.Variant
	push := session.Object(obexService, sessionPath)
	if err := push.Call(objectPushIface+".SendFile", 0, abs).Store(&transferPath, &props); err != nil {
		d.untrack(sessionPath)
		_ = client.Call(obexClientIface+".RemoveSession", 0, sessionPath).Err
		return fmt.Errorf("opp: bluez: send file: %w", err)
	}

	d.queued(t, transferPath, props)
	return nil
}

func (d *BlueZDriver) Deinit() {
	d.mu.Lock()
	if d.handler == nil {
		d.mu.Unlock()
		return
	}
	system, session := d.system, d.session
	done, loopDone := d.done, d.loopDone
	pending := d.transfers
	d.system, d.session, d.handler, d.transfers = nil, nil, nil, nil
	d.mu.Unlock()

	close(done)
	<-loopDone

	for sessionPath, t := range pending {
		if t.path != "" {
			obj := session.Object(obexService, t.path)
			if err := obj.Call(transferIface+".Cancel", 0).Err; err != nil {
				slog.Debug("[OPP] cancel transfer", "transfer", t.path, "error", err)
			}
		}
		client := session.Object(obexService, obexPath)
		if err := client.Call(obexClientIface+".RemoveSession", 0, sessionPath).Err; err != nil {
			slog.Debug("[OPP] remove session", "session", sessionPath, "error", err)
		}
	}

	if err := session.Close(); err != nil {
		slog.Debug("[OPP] close session bus", "error", err)
	}
	if err := system.Close(); err != nil {
		slog.Debug("[OPP] close system bus", "error", err)
	}
	slog.Info("[OPP] bluez driver released", "adapter", d.adapter)
}
