package kafka

import (
	"maps"
	"slices"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/kbukum/imgflow/bus"
)

// Message builds the record of one hop. Headers are written in key order.
func Message(topic, key string, value []byte, headers map[string]string) kafkago.Message {
	m := kafkago.Message{Topic: topic, Key: []byte(key), Value: value}
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		m.Headers = append(m.Headers, kafkago.Header{Key: k, Value: []byte(headers[k])})
	}
	return m
}

// Delivery converts a fetched record for a bus handler. A repeated header
// keeps its last value.
func Delivery(m kafkago.Message) bus.Delivery {
	d := bus.Delivery{
		Topic:     m.Topic,
		Key:       string(m.Key),
		Value:     m.Value,
		Timestamp: m.Time,
	}
	if len(m.Headers) > 0 {
		d.Headers = make(map[string]string, len(m.Headers))
		for _, h := range m.Headers {
			d.Headers[h.Key] = string(h.Value)
		}
	}
	return d
}
