package realtime

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestTopicNames(t *testing.T) {
	id := uuid.MustParse("0b09b6a5-2f3e-45df-9c61-0a9fa6a0f111")

	require.Equal(t, "buyer-"+id.String(), BuyerTopic(id))
	require.Equal(t, "seller-"+id.String(), SellerTopic(id))
	require.Equal(t, "order-"+id.String(), OrderTopic(id))
}

func TestNewRedisPublisherRequiresClient(t *testing.T) {
	_, err := NewRedisPublisher(nil, nil)
	require.Error(t, err)
}
