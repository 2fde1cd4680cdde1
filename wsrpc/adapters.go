// SAGE - Secure Agent Guarantee Engine
// Copyright (C) 2025 SAGE-X-project
//
// This file is part of SAGE.
//
// SAGE is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// SAGE is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with SAGE. If not, see <https://www.gnu.org/licenses/>.

package wsrpc

import (
	"context"

	"github.com/syncspace/engine/epoch"
	"github.com/syncspace/engine/membership"
	"github.com/syncspace/engine/router"
	"github.com/syncspace/engine/space"
	"github.com/syncspace/engine/transport"
	"github.com/syncspace/engine/wire"
)

// RouterRPC adapts a Client to router.RPC: subscribe and pull each issue one
// multiplexed call across every space passed in subs.
type RouterRPC struct {
	Client *Client
}

func (r RouterRPC) Subscribe(ctx context.Context, subs []router.SpaceSubscription) ([]router.SpaceCursorState, error) {
	var result []router.SpaceCursorState
	if err := r.Client.Call(ctx, "subscribe", struct {
		Spaces []router.SpaceSubscription `cbor:"spaces"`
	}{Spaces: subs}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

func (r RouterRPC) Pull(ctx context.Context, collection string, subs []router.SpaceSubscription) ([]router.SpaceCursorState, error) {
	var result []router.SpaceCursorState
	if err := r.Client.Call(ctx, "pull", struct {
		Collection string                     `cbor:"collection"`
		Spaces     []router.SpaceSubscription `cbor:"spaces"`
	}{Collection: collection, Spaces: subs}, &result); err != nil {
		return nil, err
	}
	return result, nil
}

// EpochTransport adapts a Client to epoch.Transport.
type EpochTransport struct {
	Client *Client
}

func (e EpochTransport) Begin(ctx context.Context, spaceID string, ep uint64, setMinKeyGeneration bool) (epoch.BeginResult, error) {
	var result epoch.BeginResult
	err := e.Client.Call(ctx, "epoch.begin", struct {
		SpaceID             string `cbor:"space_id"`
		Epoch               uint64 `cbor:"epoch"`
		SetMinKeyGeneration bool   `cbor:"set_min_key_generation"`
	}{SpaceID: spaceID, Epoch: ep, SetMinKeyGeneration: setMinKeyGeneration}, &result)
	return result, err
}

func (e EpochTransport) Complete(ctx context.Context, spaceID string, ep uint64) error {
	return e.Client.Call(ctx, "epoch.complete", struct {
		SpaceID string `cbor:"space_id"`
		Epoch   uint64 `cbor:"epoch"`
	}{SpaceID: spaceID, Epoch: ep}, nil)
}

func (e EpochTransport) GetDEKs(ctx context.Context, spaceID string, since uint64) ([]epoch.WrappedDEKEntry, error) {
	var result []epoch.WrappedDEKEntry
	err := e.Client.Call(ctx, "deks.get", struct {
		SpaceID string `cbor:"space_id"`
		Since   uint64 `cbor:"since"`
	}{SpaceID: spaceID, Since: since}, &result)
	return result, err
}

func (e EpochTransport) RewrapDEKs(ctx context.Context, spaceID string, batch []epoch.WrappedDEKEntry) (int, error) {
	var result struct {
		Accepted int `cbor:"accepted"`
	}
	err := e.Client.Call(ctx, "deks.rewrap", struct {
		SpaceID string                    `cbor:"space_id"`
		Batch   []epoch.WrappedDEKEntry   `cbor:"batch"`
	}{SpaceID: spaceID, Batch: batch}, &result)
	return result.Accepted, err
}

// MembershipTransport adapts a Client to membership.Transport.
type MembershipTransport struct {
	Client *Client
}

func (m MembershipTransport) Append(ctx context.Context, spaceID string, req membership.AppendRequest) error {
	return m.Client.Call(ctx, "membership.append", struct {
		SpaceID string                    `cbor:"space_id"`
		Request membership.AppendRequest `cbor:"request"`
	}{SpaceID: spaceID, Request: req}, nil)
}

func (m MembershipTransport) List(ctx context.Context, spaceID string, sinceSeq uint64) (membership.ListResult, error) {
	var result membership.ListResult
	err := m.Client.Call(ctx, "membership.list", struct {
		SpaceID  string `cbor:"space_id"`
		SinceSeq uint64 `cbor:"since_seq"`
	}{SpaceID: spaceID, SinceSeq: sinceSeq}, &result)
	return result, err
}

func (m MembershipTransport) RevokeUCAN(ctx context.Context, spaceID, ucanCID string) error {
	return m.Client.Call(ctx, "membership.revoke", struct {
		SpaceID string `cbor:"space_id"`
		UCANCID string `cbor:"ucan_cid"`
	}{SpaceID: spaceID, UCANCID: ucanCID}, nil)
}

// Accounts adapts a Client to space.AccountsService.
type Accounts struct {
	Client *Client
}

func (a Accounts) Lookup(ctx context.Context, handle string) (*space.RecipientInfo, error) {
	var result space.RecipientInfo
	if err := a.Client.Call(ctx, "accounts.lookup", struct {
		Handle string `cbor:"handle"`
	}{Handle: handle}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// LookupDID resolves a DID to its directory entry, the reverse direction
// of Lookup, used to bind a membership-log entry's claimed signer DID to
// its real signing key.
func (a Accounts) LookupDID(ctx context.Context, did string) (*space.RecipientInfo, error) {
	var result space.RecipientInfo
	if err := a.Client.Call(ctx, "accounts.lookup_did", struct {
		DID string `cbor:"did"`
	}{DID: did}, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Invitations adapts a Client to space.InvitationTransport.
type Invitations struct {
	Client *Client
}

func (i Invitations) CreateInvitation(ctx context.Context, mailbox string, jwePayload []byte) (string, error) {
	var result struct {
		InvitationID string `cbor:"invitation_id"`
	}
	err := i.Client.Call(ctx, "invitations.create", struct {
		Mailbox string `cbor:"mailbox"`
		JWE     []byte `cbor:"jwe"`
	}{Mailbox: mailbox, JWE: jwePayload}, &result)
	return result.InvitationID, err
}

func (i Invitations) ListInvitations(ctx context.Context) ([]space.ServerInvitation, error) {
	var result []space.ServerInvitation
	err := i.Client.Call(ctx, "invitations.list", struct{}{}, &result)
	return result, err
}

func (i Invitations) DeleteInvitation(ctx context.Context, invitationID string) error {
	return i.Client.Call(ctx, "invitations.delete", struct {
		InvitationID string `cbor:"invitation_id"`
	}{InvitationID: invitationID}, nil)
}

func (i Invitations) SpaceCreate(ctx context.Context, rootPublicKey []byte) (string, error) {
	var result struct {
		SpaceID string `cbor:"space_id"`
	}
	err := i.Client.Call(ctx, "space.create", struct {
		RootPublicKey []byte `cbor:"root_public_key"`
	}{RootPublicKey: rootPublicKey}, &result)
	return result.SpaceID, err
}

// NewPushFunc returns a transport.PushFunc that pushes one collection's
// outbound changes for spaceID over client. Each space's SyncTransport gets
// its own closure over the same shared Client, matching router's doc
// comment that push targets exactly one space transport via its own
// push_fn.
func NewPushFunc(client *Client, spaceID string) transport.PushFunc {
	return func(ctx context.Context, collection string, changes []wire.WrappedChange) ([]transport.PushAck, error) {
		var result []transport.PushAck
		err := client.Call(ctx, "push", struct {
			SpaceID    string              `cbor:"space_id"`
			Collection string              `cbor:"collection"`
			Changes    []wire.WrappedChange `cbor:"changes"`
		}{SpaceID: spaceID, Collection: collection, Changes: changes}, &result)
		return result, err
	}
}
