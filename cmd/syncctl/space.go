package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/syncspace/engine/ucan"
)

var (
	spaceName       string
	inviteRole      string
	targetSpaceID   string
	targetHandle    string
	targetMemberDID string
)

func init() {
	rootCmd.AddCommand(createSpaceCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(acceptCmd)
	rootCmd.AddCommand(declineCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(membersCmd)
	rootCmd.AddCommand(rotateCmd)
	rootCmd.AddCommand(checkInvitationsCmd)

	createSpaceCmd.Flags().StringVarP(&spaceName, "name", "n", "", "display name for the new space (required)")
	createSpaceCmd.Flags().StringVar(&targetHandle, "recipient", "", "handle to attribute the creator's own membership entry to")
	createSpaceCmd.MarkFlagRequired("name")

	inviteCmd.Flags().StringVar(&targetSpaceID, "space", "", "space id to invite into (required)")
	inviteCmd.Flags().StringVar(&targetHandle, "handle", "", "handle of the recipient to invite (required)")
	inviteCmd.Flags().StringVar(&inviteRole, "role", string(ucan.RoleWrite), "role to delegate: admin, write, or read")
	inviteCmd.MarkFlagRequired("space")
	inviteCmd.MarkFlagRequired("handle")

	acceptCmd.Flags().StringVar(&targetSpaceID, "space", "", "space id of a pending invitation (required)")
	acceptCmd.MarkFlagRequired("space")

	declineCmd.Flags().StringVar(&targetSpaceID, "space", "", "space id of a pending invitation (required)")
	declineCmd.MarkFlagRequired("space")

	revokeCmd.Flags().StringVar(&targetSpaceID, "space", "", "space id to revoke from (required)")
	revokeCmd.Flags().StringVar(&targetMemberDID, "member", "", "DID of the member to remove (required)")
	revokeCmd.MarkFlagRequired("space")
	revokeCmd.MarkFlagRequired("member")

	membersCmd.Flags().StringVar(&targetSpaceID, "space", "", "space id to list members for (required)")
	membersCmd.MarkFlagRequired("space")

	rotateCmd.Flags().StringVar(&targetSpaceID, "space", "", "space id to rotate the key for (required)")
	rotateCmd.MarkFlagRequired("space")
}

func withApp(fn func(ctx context.Context, a *app) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	a, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

var createSpaceCmd = &cobra.Command{
	Use:   "create-space",
	Short: "Create a new space and activate it as its admin",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			rec, err := a.manager.CreateSpace(ctx, spaceName, a.selfPub, targetHandle)
			if err != nil {
				return fmt.Errorf("create space: %w", err)
			}
			fmt.Printf("created space %q\n  id:   %s\n  role: %s\n", rec.Name, rec.SpaceID, rec.Role)
			return nil
		})
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Delegate a role to a handle and send them a sealed invitation",
	RunE: func(cmd *cobra.Command, args []string) error {
		role := ucan.Role(inviteRole)
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.manager.Invite(ctx, targetSpaceID, targetHandle, role); err != nil {
				return fmt.Errorf("invite: %w", err)
			}
			fmt.Printf("invited %s into %s as %s\n", targetHandle, targetSpaceID, role)
			return nil
		})
	},
}

var acceptCmd = &cobra.Command{
	Use:   "accept",
	Short: "Accept a pending invitation for a space",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			rec, ok := a.store.Get(targetSpaceID)
			if !ok {
				return fmt.Errorf("accept: no local record for space %s (run check-invitations first)", targetSpaceID)
			}
			if err := a.manager.Accept(ctx, rec); err != nil {
				return fmt.Errorf("accept: %w", err)
			}
			fmt.Printf("accepted invitation to %s\n", targetSpaceID)
			return nil
		})
	},
}

var declineCmd = &cobra.Command{
	Use:   "decline",
	Short: "Decline a pending invitation for a space",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			rec, ok := a.store.Get(targetSpaceID)
			if !ok {
				return fmt.Errorf("decline: no local record for space %s (run check-invitations first)", targetSpaceID)
			}
			if err := a.manager.Decline(ctx, rec); err != nil {
				return fmt.Errorf("decline: %w", err)
			}
			fmt.Printf("declined invitation to %s\n", targetSpaceID)
			return nil
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke",
	Short: "Remove a member from a space, rotating its key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.manager.RemoveMember(ctx, targetSpaceID, targetMemberDID); err != nil {
				return fmt.Errorf("revoke: %w", err)
			}
			fmt.Printf("removed %s from %s\n", targetMemberDID, targetSpaceID)
			return nil
		})
	},
}

var membersCmd = &cobra.Command{
	Use:   "members",
	Short: "List a space's current membership",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			view, err := a.manager.GetMembers(ctx, targetSpaceID)
			if err != nil {
				return fmt.Errorf("members: %w", err)
			}
			for did, member := range view {
				fmt.Printf("%-48s %-8s %s\n", did, member.Role, member.Status)
			}
			return nil
		})
	},
}

var rotateCmd = &cobra.Command{
	Use:   "rotate",
	Short: "Force a key rotation for an admin-held space",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			newEpoch, err := a.manager.RotateSpaceKey(ctx, targetSpaceID)
			if err != nil {
				return fmt.Errorf("rotate: %w", err)
			}
			fmt.Printf("rotated %s to epoch %d\n", targetSpaceID, newEpoch)
			return nil
		})
	},
}

var checkInvitationsCmd = &cobra.Command{
	Use:   "check-invitations",
	Short: "Poll the relay for new invitations and revocation notices",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(ctx context.Context, a *app) error {
			if err := a.manager.CheckInvitations(ctx); err != nil {
				return fmt.Errorf("check-invitations: %w", err)
			}
			records, err := a.store.List()
			if err != nil {
				return fmt.Errorf("check-invitations: list local records: %w", err)
			}
			for _, rec := range records {
				fmt.Printf("%-40s %-10s %s\n", rec.SpaceID, rec.Status, rec.Name)
			}
			return nil
		})
	},
}
