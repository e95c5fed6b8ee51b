// Package kafka is the broker transport between ingress and the stage
// workers, built on segmentio/kafka-go.
//
// Every stage kind has a topic; a stage's replicas share the consumer group
// "<group_id>-<kind>". Publishing is one attempt per hop (kafka/producer),
// consuming commits after the handler (kafka/consumer), and FromKafka turns
// client errors into AppErrors.
//
//	kafka:
//	  enabled: true
//	  brokers: ["localhost:9092"]
//	  group_id: imgflow
//	  producer:
//	    acks: all
//	  consumer:
//	    max_bytes: 10MB
package kafka
