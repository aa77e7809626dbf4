// internal/clients/membership_client.go
package clients

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"libracirc/internal/apperr"
	"libracirc/internal/membership"
)

// MembershipClient reads members from a remote membership service.
type MembershipClient struct {
	base
}

func NewMembershipClient(baseURL string, opts ...Option) *MembershipClient {
	return &MembershipClient{base: newBase(baseURL, opts...)}
}

func (c *MembershipClient) GetMember(ctx context.Context, id uuid.UUID) (*membership.Member, error) {
	var member membership.Member
	err := c.call(ctx, http.MethodGet, fmt.Sprintf("/members/%s", id), uuid.Nil, nil, &member)
	if apperr.KindOf(err) == apperr.KindNotFound {
		return nil, membership.ErrMemberNotFound
	}
	if err != nil {
		var ae *apperr.Error
		if errors.As(err, &ae) {
			return nil, fmt.Errorf("membership service: %s", ae.Message)
		}
		return nil, err
	}
	return &member, nil
}
