package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{KeyCorrelationID: "abc", KeyReplyTo: "rpc.reply.gateway"}
	clone := original.Clone()
	clone[KeyCorrelationID] = "changed"

	assert.Equal(t, "abc", original.CorrelationID())
	assert.Len(t, clone, 2)

	var empty Metadata
	assert.NotNil(t, empty.Clone())
}

func TestWithAndWithAll(t *testing.T) {
	base := Metadata{KeyPattern: "lead.create"}
	enriched := base.With(KeyStatus, StatusOK)
	assert.NotContains(t, base, KeyStatus)
	assert.Equal(t, StatusOK, enriched[KeyStatus])

	merged := enriched.WithAll(Metadata{KeySource: "lead"})
	assert.Equal(t, "lead", merged[KeySource])
	assert.Equal(t, "lead.create", merged[KeyPattern])
}

func TestNewPairs(t *testing.T) {
	md := New(KeyEventType, "lead.created", KeyEventID, "01J", "dangling")
	assert.Equal(t, Metadata{KeyEventType: "lead.created", KeyEventID: "01J"}, md)
}

func TestToAndFromWatermill(t *testing.T) {
	md := Metadata{KeySource: "deal"}
	wm := ToWatermill(md)
	wm[KeySource] = "mutation"
	assert.Equal(t, "deal", md[KeySource])

	assert.Empty(t, ToWatermill(nil))
	assert.Equal(t, "x", FromWatermill(message.Metadata{KeyTraceID: "x"})[KeyTraceID])
	assert.NotNil(t, FromWatermill(nil))
}
