package qdrantdb

import (
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

const defaultScrollLimit = 10000

type ArticleVectorClient struct {
	Client *qdrant.Client
	limit  uint32
	logger *zap.Logger
}

// NewClient connects to qdrant over gRPC. maxCandidates caps a single
// candidate scroll; 0 uses defaultScrollLimit.
func NewClient(host string, port int, maxCandidates int, logger *zap.Logger) (*ArticleVectorClient, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port, // gRPC port
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: connect %s:%d: %w", host, port, err)
	}
	if maxCandidates <= 0 {
		maxCandidates = defaultScrollLimit
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArticleVectorClient{
		Client: client,
		limit:  uint32(maxCandidates),
		logger: logger,
	}, nil
}

func (c *ArticleVectorClient) Close() error {
	return c.Client.Close()
}
