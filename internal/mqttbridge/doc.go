// Package mqttbridge exposes MQTT-attached devices as an automation system.
//
// Each configured device becomes one resource; executing an operation
// publishes a JSON command to imaginaryhome/command/{deviceID}, where a
// protocol bridge on the broker side carries it to the physical device.
// The system registers under the "mqtt" type tag.
package mqttbridge
