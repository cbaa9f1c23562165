package main

import (
	"bytes"

	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// OpenAuthHook admits every client and allows every topic. Access
// control, when wanted, comes from the TLS listener's client-CA
// verification instead.
type OpenAuthHook struct {
	mqtt.HookBase
}

// ID returns the ID of the hook.
func (h *OpenAuthHook) ID() string {
	return "open-auth"
}

// Provides indicates which hook methods this hook provides.
func (h *OpenAuthHook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
	}, []byte{b})
}

// OnConnectAuthenticate returns true/allowed for all requests.
func (h *OpenAuthHook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	return true
}

// OnACLCheck returns true/allowed for all checks.
func (h *OpenAuthHook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	return true
}
