// Package testutil provides a recording stand-in for the Kafka producer.
//
//	p := testutil.NewMockProducer()
//	p.FailWith(kafkago.LeaderNotAvailable)
//	r := router.New(registry, p)
//	// ... dispatch, then inspect p.Messages()
package testutil
