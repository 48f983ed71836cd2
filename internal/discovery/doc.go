// Package discovery browses the local network for KEF speakers over mDNS
// and reports their appearance, address changes, and disappearance.
//
// The watcher browses continuously rather than scanning once: speakers
// power on, take new DHCP leases, and drop off the network at any time.
// Announcements are deduplicated, so a speaker re-advertising an
// unchanged address produces no event, while an address change for a
// known speaker is reported as a fresh Found.
//
// mDNS is lossy. A speaker is only reported Lost after it has been
// silent for a full grace period spanning several browse intervals; a
// single missed announcement is not removal.
package discovery
