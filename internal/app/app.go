// Package app wires the stores, services and postprocessors into one graph.
package app

import (
	"log/slog"

	"github.com/realapp/denorm/card"
	"github.com/realapp/denorm/chat"
	"github.com/realapp/denorm/counter"
	"github.com/realapp/denorm/feed"
	"github.com/realapp/denorm/follow"
	"github.com/realapp/denorm/internal/keys"
	"github.com/realapp/denorm/notify"
	"github.com/realapp/denorm/post"
	"github.com/realapp/denorm/store"
	"github.com/realapp/denorm/stream"
	"github.com/realapp/denorm/user"
)

// Deps are the external resources the graph is built from.
type Deps struct {
	Backend store.Backend

	// Search mirrors user profiles. Nil disables search sync.
	Search user.Index

	// Senders deliver chat notifications.
	Senders []notify.Sender

	Flags  post.FlagPolicy
	Logger *slog.Logger
}

// App is the wired graph.
type App struct {
	Router *stream.Router
	Chat   *chat.Service
	Feeds  *feed.Service

	Follows *follow.Store
	Posts   *post.Store
	Users   *user.Store
	Cards   *card.Store
}

// New builds the graph and registers a stream handler for every entity kind with side effects.
func New(d Deps) *App {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	b := d.Backend

	counters := counter.New(b, logger)
	cards := card.NewStore(b)
	cardManager := card.NewManager(cards, logger)
	follows := follow.NewStore(b)
	posts := post.NewStore(b)
	users := user.NewStore(b)
	feeds := feed.NewService(feed.NewStore(b), follows, posts, logger)

	postManager := post.NewManager(posts, counters, cardManager, feeds, users, d.Flags, logger)
	dispatcher := notify.NewDispatcher(logger, d.Senders...)

	router := stream.NewRouter(logger).
		Register(keys.KindFollow, stream.FollowHandler(follow.NewPostprocessor(counters, feeds, logger))).
		Register(keys.KindUser, stream.UserHandler(user.NewPostprocessor(cardManager, d.Search, logger))).
		Register(keys.KindPost, stream.PostHandler(postManager)).
		Register(keys.KindLike, stream.LikeHandler(postManager)).
		Register(keys.KindPostView, stream.ViewHandler(postManager)).
		Register(keys.KindPostFlag, stream.FlagHandler(postManager))

	return &App{
		Router:  router,
		Chat:    chat.NewService(chat.NewStore(b), dispatcher, logger),
		Feeds:   feeds,
		Follows: follows,
		Posts:   posts,
		Users:   users,
		Cards:   cards,
	}
}
