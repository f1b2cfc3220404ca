// Package persistence keeps the small amount of bridge state that must
// survive a restart: which controller address last worked.
//
// The supervisor tries the remembered address first, which skips a full
// candidate sweep after a device reboot on the same network.
package persistence
