// Package mqtt provides MQTT client connectivity for the AV bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support and restoration on reconnect
//   - Last Will and Testament (LWT) on the bridge health topic
//
// # Topics
//
// The AV bridge uses the flat bridge scheme shared with the other Gray Logic bridges:
//
//	graylogic/command/av/{device}   commands in
//	graylogic/ack/av/{device}       command results out
//	graylogic/state/av/{device}     retained device state out
//	graylogic/health/av             retained bridge health and LWT
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT, "")
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.BridgeCommands(mqtt.ProtocolAV), 1,
//	    func(topic string, payload []byte) error {
//	        return handle(topic, payload)
//	    })
package mqtt
