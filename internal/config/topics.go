package config

const (
	// TopicIndexRebuild is the NSQ topic for out-of-band index rebuild requests.
	TopicIndexRebuild = "index.rebuild"

	// TopicIndexResult is the NSQ topic for rebuild outcomes (success/failure).
	TopicIndexResult = "index.result"

	// ChannelIndexer is the consumer channel shared by rebuild workers.
	ChannelIndexer = "indexer"

	// ChannelResults records failed rebuilds for manual retry.
	ChannelResults = "results"
)
