package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/feeds"

	"tusker/activitypub"
	"tusker/util"
)

const rssFeedLimit = 50

// GetRSS renders the most recent notes of a local account as an RSS feed.
// An empty username falls back to the instance's canonical account.
func GetRSS(fed *activitypub.Federation, username string) (string, error) {
	if username == "" {
		acc, err := fed.Store.ReadFirstAccount()
		if err != nil {
			return "", errors.New("no account configured")
		}
		username = acc.Username
	}

	notes, err := fed.Store.ReadNotesByUsername(username, rssFeedLimit, 0)
	if err != nil {
		fed.Log.Error("could not read notes for feed", "username", username, "err", err)
		return "", errors.New("error retrieving notes by username")
	}

	dom := fed.Conf.Conf.Domain
	link := fmt.Sprintf("https://%s/feed?username=%s", dom, username)

	feed := &feeds.Feed{
		Title:       fmt.Sprintf("Notes - %s", username),
		Link:        &feeds.Link{Href: link},
		Description: fmt.Sprintf("notes published by %s@%s", username, dom),
		Author:      &feeds.Author{Name: username, Email: fmt.Sprintf("%s@%s", username, dom)},
		Created:     time.Now(),
	}

	var feedItems []*feeds.Item
	for _, note := range notes {
		feedItems = append(feedItems,
			&feeds.Item{
				Id:      note.Id.String(),
				Title:   note.CreatedAt.Format(util.DateTimeFormat()),
				Link:    &feeds.Link{Href: fmt.Sprintf("https://%s/feed/%s", dom, note.Id)},
				Content: note.Message,
				Author:  &feeds.Author{Name: username, Email: fmt.Sprintf("%s@%s", username, dom)},
				Created: note.CreatedAt,
			})
	}

	feed.Items = feedItems
	return feed.ToRss()
}

// GetRSSItem renders a single note as a one-item RSS feed.
func GetRSSItem(fed *activitypub.Federation, id uuid.UUID) (string, error) {
	note, err := fed.Store.ReadNoteById(id)
	if err != nil {
		fed.Log.Error("could not read note for feed", "id", id, "err", err)
		return "", errors.New("error retrieving note by id")
	}

	dom := fed.Conf.Conf.Domain
	email := fmt.Sprintf("%s@%s", note.CreatedBy, dom)
	url := fmt.Sprintf("https://%s/feed/%s", dom, note.Id)

	feed := &feeds.Feed{
		Title:       "Single Note",
		Link:        &feeds.Link{Href: url},
		Description: fmt.Sprintf("a note published by %s", email),
		Author:      &feeds.Author{Name: note.CreatedBy, Email: email},
		Created:     time.Now(),
	}

	feed.Items = []*feeds.Item{
		{
			Id:      note.Id.String(),
			Title:   note.CreatedAt.Format(util.DateTimeFormat()),
			Link:    &feeds.Link{Href: url},
			Content: note.Message,
			Author:  &feeds.Author{Name: note.CreatedBy, Email: email},
			Created: note.CreatedAt,
		},
	}
	return feed.ToRss()
}
