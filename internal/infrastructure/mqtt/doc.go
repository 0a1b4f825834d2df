// Package mqtt provides the MQTT connection to the ioBroker relay.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing and wildcard subscriptions restored after reconnects
//   - Last Will and Testament (LWT) for offline detection
//   - Panic isolation for message handlers
//
// # Topics
//
// All topics share the configured prefix; see Topics for the layout.
// ioBroker's MQTT adapter (or a small script) relays state changes to
// {prefix}/state/{entityId} and answers point lookups published to
// {prefix}/request/get.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllStates(), client.QoS(),
//	    func(topic string, payload []byte) error {
//	        return nil
//	    })
package mqtt
