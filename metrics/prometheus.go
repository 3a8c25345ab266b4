package metrics

const (
	// NamespacePrefix is the namespace of prometheus metrics
	NamespacePrefix = "assetdb"
)
