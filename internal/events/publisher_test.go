package events

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewPublisherRequiresConnection(t *testing.T) {
	_, err := NewPublisher(nil, "rerankd", nil)
	require.Error(t, err)
}
