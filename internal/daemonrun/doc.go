// Package daemonrun assembles the relingo runtime from configuration and
// drives the daemon process until it is signalled to stop.
package daemonrun
