package domain

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccess_OwnerAndMember(t *testing.T) {
	access := &Access{
		OwnerID: 1,
		Members: []Relation{{UserID: 2, CollectionID: 10, Role: RoleMember}},
	}

	assert.True(t, access.IsOwner(1))
	assert.False(t, access.IsOwner(2))
	assert.True(t, access.IsMember(2))
	assert.False(t, access.IsMember(1), "owner is not listed as a member")
	assert.False(t, access.IsMember(3))

	var none *Access
	assert.False(t, none.IsOwner(1))
	assert.False(t, none.IsMember(1))
}

func TestWithoutID(t *testing.T) {
	order := []int64{3, 1, 2, 1}

	assert.Equal(t, []int64{3, 2}, WithoutID(order, 1))
	assert.Equal(t, []int64{3, 1, 2, 1}, order, "input must not be modified")
	assert.Equal(t, []int64{3, 1, 2, 1}, WithoutID(order, 9))
	assert.Empty(t, WithoutID(nil, 1))
}

func TestStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"invalid", ErrInvalidArgument, http.StatusBadRequest},
		{"not accessible", fmt.Errorf("wrapped: %w", ErrNotAccessible), http.StatusForbidden},
		{"busy", ErrBusy, http.StatusConflict},
		{"relational", fmt.Errorf("%w: disk full", ErrRelational), http.StatusInternalServerError},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusCode(tt.err))
		})
	}
}
