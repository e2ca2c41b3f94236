// Package portal captures monitors through the xdg-desktop-portal
// ScreenCast interface and PipeWire. Importing it registers the "portal"
// capture backend on Linux and does nothing elsewhere.
package portal
