// Package mqtt publishes capture events over MQTT.
//
// Events from the in-process bus are JSON-encoded and published below a
// topic prefix, with the event type's ":" turned into a level separator:
//
//	request:created        -> hookd/events/request/created
//	tcp_connection:closed  -> hookd/events/tcp_connection/closed
//
// Two sinks are available and may be combined. An embedded broker lets
// clients subscribe to hookd directly:
//
//	svc, err := mqtt.NewService(mqtt.Config{Listen: ":1883"}, bus)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := svc.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Stop(context.Background())
//
// A forwarder connects to an existing broker instead:
//
//	mqtt.Config{Broker: "tcp://broker.local:1883", Filter: `type startsWith "tcp"`}
//
// Delivery follows the bus: a slow sink drops events rather than stalling
// the capture listeners.
package mqtt
