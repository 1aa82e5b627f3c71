package sites

import (
	"slices"
	"sync"
)

// Network is the device connection state. It implements
// types.NetworkStatus.
type Network struct {
	mu        sync.RWMutex
	online    bool
	wifi      bool
	listeners []func(online, wifi bool)
}

func NewNetwork(online, wifi bool) *Network {
	return &Network{online: online, wifi: wifi && online}
}

func (n *Network) IsOnline() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.online
}

// IsWifi reports whether the connection is unlimited (wifi or wired).
func (n *Network) IsWifi() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.wifi
}

// OnChange calls fn whenever the connection changes.
func (n *Network) OnChange(fn func(online, wifi bool)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.listeners = append(n.listeners, fn)
}

// Set updates the connection. Offline implies no wifi.
func (n *Network) Set(online, wifi bool) {
	wifi = wifi && online
	n.mu.Lock()
	changed := n.online != online || n.wifi != wifi
	n.online, n.wifi = online, wifi
	listeners := slices.Clone(n.listeners)
	n.mu.Unlock()

	if !changed {
		return
	}
	for _, fn := range listeners {
		fn(online, wifi)
	}
}
