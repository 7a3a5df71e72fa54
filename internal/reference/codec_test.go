package reference

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	items := []string{"1006", "1", "ITEM42", "1234567", "123456789012"}
	for _, item := range items {
		for i := 0; i < 50; i++ {
			requestID := uuid.NewString()
			ref := Encode(item, requestID)

			assert.LessOrEqual(t, len(ref), MaxLength, "reference %q too long", ref)

			decoded, ok := Decode(ref)
			require.True(t, ok, "decode %q", ref)
			assert.Equal(t, requestID, decoded)
		}
	}
}

func TestEncodeIsDeterministic(t *testing.T) {
	requestID := "3f1c9a8e-5b7d-4e21-9c3a-0d2e4f6a8b1c"
	first := Encode("1006", requestID)
	second := Encode("1006", requestID)

	assert.Equal(t, first, second)
	assert.Equal(t, "1006-3f1c9a8e5b7d4e219c3a0d2e4f6a8b1c", first)
}

func TestEncodeClipsLongItemID(t *testing.T) {
	ref := Encode("catalog-item-with-a-long-name", uuid.NewString())
	assert.Len(t, ref, MaxLength)
}

func TestDecodeRejectsForeignReferences(t *testing.T) {
	cases := []string{
		"not-a-reference",
		"",
		"1006",
		"1006-",
		"1006-3f1c9a8e5b7d4e219c3a0d2e4f6a8b1",   // 31 chars
		"1006-3f1c9a8e5b7d4e219c3a0d2e4f6a8b1cd", // 33 chars
		"1006-zz1c9a8e5b7d4e219c3a0d2e4f6a8b1c",  // not hex
		"sq0idp-ABCDEFGHIJKLMNOPQRSTUVWXYZ123456",
	}
	for _, ref := range cases {
		t.Run(ref, func(t *testing.T) {
			id, ok := Decode(ref)
			assert.False(t, ok)
			assert.Empty(t, id)
		})
	}
}

func TestDiagnosticReferenceIsNotDecodable(t *testing.T) {
	at := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	ref := EncodeDiagnostic(at, "team_abcdef123456", "cap-7788-99", "")

	assert.True(t, strings.HasPrefix(ref, "20260314-"))
	assert.LessOrEqual(t, len(ref), MaxLength)
	assert.Equal(t, "20260314-teamabcd-cap77889-x", ref)

	_, ok := Decode(ref)
	assert.False(t, ok)
}
