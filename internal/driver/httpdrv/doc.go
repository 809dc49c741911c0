// Package httpdrv implements the generic HTTP protocol driver for
// Wi-Fi devices that expose a small JSON control surface.
//
// Unlike the radio protocols there is no bridge process: the driver
// talks to each device directly with a bounded http.Client. Devices
// declare their endpoint in the address map ("base_url") and describe
// themselves through a GET /capabilities descriptor, which discovery
// probes across a configured candidate URL list.
package httpdrv
