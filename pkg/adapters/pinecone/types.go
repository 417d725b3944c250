package pinecone

import (
	"github.com/pinecone-io/go-pinecone/pinecone"
)

// Service wraps a Pinecone client and hands out index connections
type Service struct {
	client *pinecone.Client
}

// Index provides operations on one namespace of a Pinecone index
type Index struct {
	conn *pinecone.IndexConnection
}

// Vector represents a vector with metadata (re-exported from SDK for convenience)
type Vector = pinecone.Vector

// QueryMatch represents a match from query results (re-exported from SDK for convenience)
type QueryMatch = pinecone.ScoredVector

