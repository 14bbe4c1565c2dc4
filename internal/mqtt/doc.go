// Package mqtt forwards operational events from the in-process event
// bus to an MQTT broker, so dashboards and alerting can follow agent
// turns without polling the HTTP API.
//
// The forwarder uses Eclipse Paho v2's [autopaho] package for
// connection management with automatic reconnection. On every
// (re-)connect it publishes a retained birth message ("online") to the
// availability topic; a will message moves that topic to "offline" on
// unexpected disconnects. Each bus event is published to
// <prefix>/events/<source>/<kind>, and a retained daily totals payload
// is refreshed on <prefix>/stats after every finished turn.
package mqtt
