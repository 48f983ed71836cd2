// Package mqtt provides MQTT client connectivity for kefd.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// kefd publishes speaker state and connectivity to retained topics so
// home-automation systems see the current state the moment they
// subscribe, and accepts commands on per-speaker command topics.
//
//	kefd ↔ MQTT Broker ↔ Home automation / dashboards
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	// Accept commands for any speaker
//	err = client.Subscribe(mqtt.Topics{}.AllSpeakerCommands(), 1,
//	    func(topic string, payload []byte) error {
//	        // decode and dispatch
//	        return nil
//	    })
//
//	// Publish a state snapshot
//	topic := mqtt.Topics{}.SpeakerState("kef-ls50-abc123")
//	client.PublishRetained(topic, payload)
package mqtt
