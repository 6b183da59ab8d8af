package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tusker/activitypub"
	"tusker/util"
)

const actionTimeout = 2 * time.Minute

// runSocial wires the shared plumbing of the outbound-action commands:
// federation setup, account lookup and a bounded context.
func runSocial(action func(ctx context.Context, fed *activitypub.Federation, username, arg string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		fed, err := setup()
		if err != nil {
			return err
		}
		username, err := localAccount(fed)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
		defer cancel()

		return action(ctx, fed, username, strings.TrimSpace(strings.Join(args, " ")))
	}
}

func postCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "post <message>",
		Short: "Publish a note to your followers",
		Args:  cobra.MinimumNArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, message string) error {
			note, err := fed.PublishNote(ctx, username, message)
			if err != nil {
				return err
			}
			fmt.Printf("Published note %s\n", note.Id)
			return nil
		}),
	}
}

func followCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "follow <handle-or-uri>",
		Short: "Follow a remote actor",
		Args:  cobra.ExactArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, target string) error {
			if err := fed.SendFollow(ctx, username, target); err != nil {
				return err
			}
			fmt.Printf("Follow request sent to %s\n", target)
			return nil
		}),
	}
}

func unfollowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unfollow <handle-or-uri>",
		Short: "Stop following a remote actor",
		Args:  cobra.ExactArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, target string) error {
			if err := fed.SendUndoFollow(ctx, username, target); err != nil {
				return err
			}
			fmt.Printf("Unfollowed %s\n", target)
			return nil
		}),
	}
}

func likeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "like <object-uri>",
		Short: "Like a remote post",
		Args:  cobra.ExactArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, objectURI string) error {
			if err := fed.SendLike(ctx, username, objectURI); err != nil {
				return err
			}
			fmt.Printf("Liked %s\n", objectURI)
			return nil
		}),
	}
}

func unlikeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlike <object-uri>",
		Short: "Take back a like",
		Args:  cobra.ExactArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, objectURI string) error {
			if err := fed.SendUndoLike(ctx, username, objectURI); err != nil {
				return err
			}
			fmt.Printf("Unliked %s\n", objectURI)
			return nil
		}),
	}
}

func boostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "boost <object-uri>",
		Short: "Announce a remote post to your followers",
		Args:  cobra.ExactArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, objectURI string) error {
			if err := fed.SendAnnounce(ctx, username, objectURI); err != nil {
				return err
			}
			fmt.Printf("Boosted %s\n", objectURI)
			return nil
		}),
	}
}

func timelineCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Show recent posts received from followed actors",
		RunE: func(cmd *cobra.Command, args []string) error {
			fed, err := setup()
			if err != nil {
				return err
			}

			posts, _, err := fed.Store.ListRemotePosts(limit, "")
			if err != nil {
				return err
			}
			if len(posts) == 0 {
				fmt.Println("Nothing here yet")
				return nil
			}
			for _, post := range posts {
				fmt.Printf("%s  %s\n  %s\n\n", post.Published.Format(util.DateTimeFormat()), post.ActorURI, post.Content)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of posts to show")
	return cmd
}

func unboostCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unboost <object-uri>",
		Short: "Take back a boost",
		Args:  cobra.ExactArgs(1),
		RunE: runSocial(func(ctx context.Context, fed *activitypub.Federation, username, objectURI string) error {
			if err := fed.SendUndoAnnounce(ctx, username, objectURI); err != nil {
				return err
			}
			fmt.Printf("Unboosted %s\n", objectURI)
			return nil
		}),
	}
}
