package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConversationKeyIsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"alice", "bob"},
		{"bob", "alice"},
		{"u-1", "u-10"},
		{"same", "samf"},
		{"", "x"},
	}
	for _, p := range pairs {
		assert.Equal(t, ConversationKey(p[0], p[1]), ConversationKey(p[1], p[0]))
	}
	assert.Equal(t, "alice_bob", ConversationKey("bob", "alice"))
}

func TestStatusNeverRegresses(t *testing.T) {
	all := []Status{StatusSent, StatusDelivered, StatusSeen}
	for _, from := range all {
		for _, to := range all {
			got, changed := from.Upgrade(to)
			assert.GreaterOrEqual(t, got.Rank(), from.Rank())
			assert.Equal(t, to.Rank() > from.Rank(), changed)
		}
	}
	assert.Equal(t, []Status{StatusSent, StatusDelivered}, StatusSeen.Below())
	assert.Empty(t, StatusSent.Below())
}

func TestMessageApply(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	m := &Message{ID: "m1", Status: StatusSent}

	// seen before delivered fills both timestamps
	require.True(t, m.Apply(StatusSeen, t0))
	assert.Equal(t, StatusSeen, m.Status)
	require.NotNil(t, m.DeliveredAt)
	require.NotNil(t, m.SeenAt)

	assert.False(t, m.Apply(StatusDelivered, t1))
	assert.False(t, m.Apply(StatusSeen, t1))
	assert.Equal(t, t0, *m.SeenAt)
}

func TestSendRequestValidate(t *testing.T) {
	valid := SendRequest{From: "a", To: "b", Message: "x", MessageBack: "y"}

	r := valid
	require.NoError(t, r.Validate())
	assert.Equal(t, DefaultMessageType, r.Type)

	cases := []struct {
		name   string
		field  string
		mutate func(*SendRequest)
	}{
		{"no sender", "from", func(r *SendRequest) { r.From = "" }},
		{"blank recipient", "to", func(r *SendRequest) { r.To = " " }},
		{"no payload", "message", func(r *SendRequest) { r.Message = "" }},
		{"no payload back", "messageBack", func(r *SendRequest) { r.MessageBack = "" }},
		{"self", "to", func(r *SendRequest) { r.To = "a" }},
		{"unknown device", "device", func(r *SendRequest) { r.Device = "tablet" }},
		{"underscore sender", "from", func(r *SendRequest) { r.From = "a_b" }},
		{"underscore recipient", "to", func(r *SendRequest) { r.To = "b_c" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := valid
			tc.mutate(&r)
			err := r.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrValidation))
			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, tc.field, ve.Field)
		})
	}
}

func TestValidUserIDKeepsConversationKeysDistinct(t *testing.T) {
	// "a_b"+"c" and "a"+"b_c" would share a key, so "_" is not a valid id
	assert.False(t, ValidUserID("a_b"))
	assert.False(t, ValidUserID("b_c"))
	assert.False(t, ValidUserID("  "))
	assert.True(t, ValidUserID("64f1c2e9a1b2c3d4e5f60718"))
	assert.NotEqual(t, ConversationKey("a", "bc"), ConversationKey("ab", "c"))
}

func TestValidateDeviceRef(t *testing.T) {
	require.NoError(t, Validate(DeviceRef{User: "bob", Device: DeviceWeb}))
	err := Validate(DeviceRef{User: "bob", Device: "tv"})
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "device", ve.Field)
	assert.Contains(t, ve.Reason, "web mobile")
}

func TestDedupeEntriesKeepsFirst(t *testing.T) {
	in := []PendingEntry{{ID: "1", Message: "a"}, {ID: "2"}, {ID: "1", Message: "b"}}
	out := DedupeEntries(in)
	require.Len(t, out, 2)
	assert.Equal(t, "a", out[0].Message)
	assert.Equal(t, "2", out[1].ID)
}

func TestDeviceClass(t *testing.T) {
	assert.Equal(t, DeviceMobile, DeviceWeb.Other())
	assert.Equal(t, DeviceWeb, DeviceMobile.Other())
	d, err := ParseDeviceClass(" Mobile ")
	require.NoError(t, err)
	assert.Equal(t, DeviceMobile, d)
	_, err = ParseDeviceClass("tv")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, "WEB", DeviceWeb.Upper())
}
